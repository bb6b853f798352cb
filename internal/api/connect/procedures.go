// Package connect provides the Connect RPC player service and its client.
package connect

// PlayerServiceName is the fully-qualified name of the player service.
const PlayerServiceName = "player.v1.PlayerService"

// Procedure paths of the player service.
const (
	GetStatusProcedure          = "/" + PlayerServiceName + "/GetStatus"
	PlayProcedure               = "/" + PlayerServiceName + "/Play"
	PauseProcedure              = "/" + PlayerServiceName + "/Pause"
	TogglePlayProcedure         = "/" + PlayerServiceName + "/TogglePlay"
	NextTrackProcedure          = "/" + PlayerServiceName + "/NextTrack"
	PreviousTrackProcedure      = "/" + PlayerServiceName + "/PreviousTrack"
	SeekProcedure               = "/" + PlayerServiceName + "/Seek"
	SetVolumeProcedure          = "/" + PlayerServiceName + "/SetVolume"
	ToggleShuffleProcedure      = "/" + PlayerServiceName + "/ToggleShuffle"
	ToggleRepeatProcedure       = "/" + PlayerServiceName + "/ToggleRepeat"
	PlayTrackProcedure          = "/" + PlayerServiceName + "/PlayTrack"
	LoadQueueProcedure          = "/" + PlayerServiceName + "/LoadQueue"
	LoadSearchProcedure         = "/" + PlayerServiceName + "/LoadSearch"
	LoadPlaylistProcedure       = "/" + PlayerServiceName + "/LoadPlaylist"
	ListDevicesProcedure        = "/" + PlayerServiceName + "/ListDevices"
	SelectDeviceProcedure       = "/" + PlayerServiceName + "/SelectDevice"
	RecentlyPlayedProcedure     = "/" + PlayerServiceName + "/RecentlyPlayed"
	CreatePlaylistProcedure     = "/" + PlayerServiceName + "/CreatePlaylist"
	ListPlaylistsProcedure      = "/" + PlayerServiceName + "/ListPlaylists"
	GetPlaylistProcedure        = "/" + PlayerServiceName + "/GetPlaylist"
	AddToPlaylistProcedure      = "/" + PlayerServiceName + "/AddToPlaylist"
	RemoveFromPlaylistProcedure = "/" + PlayerServiceName + "/RemoveFromPlaylist"
	DeletePlaylistProcedure     = "/" + PlayerServiceName + "/DeletePlaylist"
	SaveTrackProcedure          = "/" + PlayerServiceName + "/SaveTrack"
	RemoveSavedTrackProcedure   = "/" + PlayerServiceName + "/RemoveSavedTrack"
	ListSavedTracksProcedure    = "/" + PlayerServiceName + "/ListSavedTracks"
	IsTrackSavedProcedure       = "/" + PlayerServiceName + "/IsTrackSaved"
	SubscribeProcedure          = "/" + PlayerServiceName + "/Subscribe"
)

// readOnlyProcedures do not require the control token.
var readOnlyProcedures = map[string]bool{
	GetStatusProcedure:       true,
	ListDevicesProcedure:     true,
	RecentlyPlayedProcedure:  true,
	ListPlaylistsProcedure:   true,
	GetPlaylistProcedure:     true,
	ListSavedTracksProcedure: true,
	IsTrackSavedProcedure:    true,
	SubscribeProcedure:       true,
}
