// Package main provides the player control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apiconnect "github.com/osa030/19player/internal/api/connect"
)

var (
	app    = kingpin.New("19player-cli", "19player remote control")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set PLAYER_TOKEN env)").Envar("PLAYER_TOKEN").String()

	statusCmd = app.Command("status", "Show the session status")

	// transport commands
	playCmd     = app.Command("play", "Start or resume playback")
	pauseCmd    = app.Command("pause", "Pause playback")
	toggleCmd   = app.Command("toggle", "Toggle between playing and paused")
	nextCmd     = app.Command("next", "Skip to the next track")
	prevCmd     = app.Command("prev", "Restart or go back to the previous track").Alias("previous")
	seekCmd     = app.Command("seek", "Seek within the current track")
	seekPos     = seekCmd.Arg("position", "Position (e.g. 90s, 1m30s)").Required().Duration()
	volumeCmd   = app.Command("volume", "Set the volume")
	volumeLevel = volumeCmd.Arg("level", "Volume between 0 and 1").Required().Float64()
	shuffleCmd  = app.Command("shuffle", "Toggle shuffle")
	repeatCmd   = app.Command("repeat", "Cycle the repeat mode (off, all, one)")
	jumpCmd     = app.Command("jump", "Play a queued track")
	jumpTrack   = jumpCmd.Arg("track-id", "Track ID").Required().String()

	// queue commands
	loadCmd      = app.Command("load", "Replace the queue with tracks from a YAML file")
	loadFile     = loadCmd.Arg("file", "YAML file with a list of tracks").Required().ExistingFile()
	loadStart    = loadCmd.Flag("start", "Track ID to start with").String()
	searchCmd    = app.Command("search", "Queue catalog search results")
	searchQuery  = searchCmd.Arg("query", "Search query").Required().Strings()
	queueListCmd = app.Command("queue", "Queue a personal playlist id or a catalog playlist URL")
	queueListID  = queueListCmd.Arg("playlist", "Playlist ID or URL").Required().String()

	// device commands
	devicesCmd = app.Command("devices", "List playback devices")
	deviceCmd  = app.Command("device", "Switch the active device")
	deviceName = deviceCmd.Arg("name", "Device name").Required().String()

	historyCmd = app.Command("history", "Show recently played tracks")

	// playlist commands
	playlistCmd   = app.Command("playlist", "Manage personal playlists")
	plListCmd     = playlistCmd.Command("list", "List playlists").Default()
	plShowCmd     = playlistCmd.Command("show", "Show a playlist")
	plShowID      = plShowCmd.Arg("id", "Playlist ID").Required().String()
	plCreateCmd   = playlistCmd.Command("create", "Create a playlist")
	plCreateName  = plCreateCmd.Arg("name", "Playlist name").Required().String()
	plAddCmd      = playlistCmd.Command("add", "Add a queued track to a playlist")
	plAddID       = plAddCmd.Arg("id", "Playlist ID").Required().String()
	plAddTrack    = plAddCmd.Arg("track-id", "Track ID").Required().String()
	plRemoveCmd   = playlistCmd.Command("remove", "Remove a track from a playlist")
	plRemoveID    = plRemoveCmd.Arg("id", "Playlist ID").Required().String()
	plRemoveTrack = plRemoveCmd.Arg("track-id", "Track ID").Required().String()
	plDeleteCmd   = playlistCmd.Command("delete", "Delete a playlist")
	plDeleteID    = plDeleteCmd.Arg("id", "Playlist ID").Required().String()

	// library commands
	libraryCmd     = app.Command("library", "Manage saved tracks")
	libListCmd     = libraryCmd.Command("list", "List saved tracks").Default()
	libSaveCmd     = libraryCmd.Command("save", "Save a queued track")
	libSaveTrack   = libSaveCmd.Arg("track-id", "Track ID").Required().String()
	libRemoveCmd   = libraryCmd.Command("remove", "Remove a saved track")
	libRemoveTrack = libRemoveCmd.Arg("track-id", "Track ID").Required().String()
	libCheckCmd    = libraryCmd.Command("check", "Check whether a track is saved")
	libCheckTrack  = libCheckCmd.Arg("track-id", "Track ID").Required().String()

	watchCmd = app.Command("watch", "Stream session notifications")
)

// trackFile is one entry of a load file.
type trackFile struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Artist      string `yaml:"artist"`
	Album       string `yaml:"album"`
	DurationSec int    `yaml:"duration_sec"`
	MediaURI    string `yaml:"media_uri"`
	CoverURI    string `yaml:"cover_uri"`
	Source      string `yaml:"source"`
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	switch command {
	case statusCmd.FullCommand():
		resp, err := client.GetStatus(ctx)
		exitOnError(err)
		printState(resp.State)
		fmt.Printf("Device: %s\n\n", resp.Device)

	case playCmd.FullCommand():
		printStateResponse(client.Play(ctx))
	case pauseCmd.FullCommand():
		printStateResponse(client.Pause(ctx))
	case toggleCmd.FullCommand():
		printStateResponse(client.TogglePlay(ctx))
	case nextCmd.FullCommand():
		printStateResponse(client.NextTrack(ctx))
	case prevCmd.FullCommand():
		printStateResponse(client.PreviousTrack(ctx))
	case seekCmd.FullCommand():
		printStateResponse(client.Seek(ctx, *seekPos))
	case volumeCmd.FullCommand():
		printStateResponse(client.SetVolume(ctx, *volumeLevel))
	case shuffleCmd.FullCommand():
		printStateResponse(client.ToggleShuffle(ctx))
	case repeatCmd.FullCommand():
		printStateResponse(client.ToggleRepeat(ctx))
	case jumpCmd.FullCommand():
		printStateResponse(client.PlayTrack(ctx, *jumpTrack))

	case loadCmd.FullCommand():
		tracks, err := readTrackFile(*loadFile)
		exitOnError(err)
		printLoadResponse(client.LoadQueue(ctx, &apiconnect.LoadQueueRequest{Tracks: tracks, StartID: *loadStart}))
	case searchCmd.FullCommand():
		printLoadResponse(client.LoadSearch(ctx, strings.Join(*searchQuery, " ")))
	case queueListCmd.FullCommand():
		printLoadResponse(client.LoadPlaylist(ctx, *queueListID))

	case devicesCmd.FullCommand():
		resp, err := client.ListDevices(ctx)
		exitOnError(err)
		printDevices(resp.Devices)
	case deviceCmd.FullCommand():
		resp, err := client.SelectDevice(ctx, *deviceName)
		exitOnError(err)
		printDevices(resp.Devices)

	case historyCmd.FullCommand():
		resp, err := client.RecentlyPlayed(ctx)
		exitOnError(err)
		fmt.Println("\n=== RECENTLY PLAYED ===")
		printTracks(resp.Tracks, "")
		fmt.Println()

	case plListCmd.FullCommand():
		resp, err := client.ListPlaylists(ctx)
		exitOnError(err)
		fmt.Printf("\nPlaylists (%d):\n", len(resp.Playlists))
		for _, p := range resp.Playlists {
			fmt.Printf("  %s  %-30s %3d tracks  %s\n", p.ID, p.Name, len(p.Tracks), formatMs(p.TotalDurationMs))
		}
		fmt.Println()
	case plShowCmd.FullCommand():
		p, err := client.GetPlaylist(ctx, *plShowID)
		exitOnError(err)
		printPlaylist(p)
	case plCreateCmd.FullCommand():
		p, err := client.CreatePlaylist(ctx, *plCreateName)
		exitOnError(err)
		fmt.Printf("✓ Playlist created: %s (%s)\n", p.Name, p.ID)
	case plAddCmd.FullCommand():
		exitOnError(client.AddToPlaylist(ctx, *plAddID, *plAddTrack))
		fmt.Println("✓ Track added")
	case plRemoveCmd.FullCommand():
		exitOnError(client.RemoveFromPlaylist(ctx, *plRemoveID, *plRemoveTrack))
		fmt.Println("✓ Track removed")
	case plDeleteCmd.FullCommand():
		exitOnError(client.DeletePlaylist(ctx, *plDeleteID))
		fmt.Println("✓ Playlist deleted")

	case libListCmd.FullCommand():
		resp, err := client.ListSavedTracks(ctx)
		exitOnError(err)
		fmt.Printf("\n=== LIBRARY (%d tracks) ===\n", len(resp.Tracks))
		printTracks(resp.Tracks, "")
		fmt.Println()
	case libSaveCmd.FullCommand():
		resp, err := client.SaveTrack(ctx, *libSaveTrack)
		exitOnError(err)
		if resp.Added {
			fmt.Println("✓ Track saved")
		} else {
			fmt.Println("Track already saved")
		}
	case libRemoveCmd.FullCommand():
		exitOnError(client.RemoveSavedTrack(ctx, *libRemoveTrack))
		fmt.Println("✓ Track removed")
	case libCheckCmd.FullCommand():
		resp, err := client.IsTrackSaved(ctx, *libCheckTrack)
		exitOnError(err)
		fmt.Printf("%s saved: %t\n", *libCheckTrack, resp.Saved)

	case watchCmd.FullCommand():
		watch(ctx, client)
	}
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func readTrackFile(path string) ([]apiconnect.Track, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []trackFile
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	tracks := make([]apiconnect.Track, len(entries))
	for i, e := range entries {
		tracks[i] = apiconnect.Track{
			ID:         e.ID,
			Title:      e.Title,
			Artist:     e.Artist,
			Album:      e.Album,
			DurationMs: int64(e.DurationSec) * 1000,
			MediaURI:   e.MediaURI,
			CoverURI:   e.CoverURI,
			Source:     e.Source,
		}
	}
	return tracks, nil
}

func watch(ctx context.Context, client *apiconnect.Client) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := client.Subscribe(ctx)
	exitOnError(err)
	defer stream.Close()

	fmt.Println("Watching session notifications. Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nUnsubscribing...")
		cancel()
	}()

	for stream.Receive() {
		printNotification(stream.Msg())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n *apiconnect.Notification) {
	fmt.Printf("\n[Sequence: %d] %s ", n.SequenceNo, n.Time)

	switch n.Type {
	case "state":
		fmt.Println("=== INITIAL STATE ===")
		printState(n.State)
		return
	case "track_changed":
		fmt.Println("=== TRACK CHANGED ===")
		printCurrent(n.State)
	case "state_changed":
		fmt.Printf("=== %s ===\n", strings.ToUpper(n.State.State))
	case "queue_changed":
		fmt.Printf("=== QUEUE CHANGED (%d tracks) ===\n", len(n.State.Queue))
	case "position":
		fmt.Printf("position %s / %s\n", formatMs(n.State.PositionMs), formatMs(n.State.DurationMs))
	case "duration":
		fmt.Printf("duration %s\n", formatMs(n.State.DurationMs))
	case "volume":
		fmt.Printf("volume %.2f\n", n.State.Volume)
	case "mode":
		fmt.Printf("shuffle=%t repeat=%s\n", n.State.Shuffle, n.State.Repeat)
	case "device_changed":
		fmt.Printf("=== DEVICE: %s ===\n", n.Device)
	case "playback_failed":
		fmt.Printf("=== PLAYBACK FAILED: %s ===\n", n.Error)
	default:
		fmt.Printf("=== UNKNOWN EVENT (%s) ===\n", n.Type)
	}
}

func printStateResponse(resp *apiconnect.StateResponse, err error) {
	exitOnError(err)
	printState(resp.State)
}

func printState(s apiconnect.State) {
	fmt.Println("\n=== CURRENT SESSION STATUS ===")
	fmt.Printf("State: %s\n", formatState(s.State))
	fmt.Printf("Volume: %.2f  Shuffle: %t  Repeat: %s\n", s.Volume, s.Shuffle, s.Repeat)
	printCurrent(s)
	if len(s.Queue) > 0 {
		fmt.Printf("\nQueue (%d):\n", len(s.Queue))
		current := ""
		if s.CurrentTrack != nil {
			current = s.CurrentTrack.ID
		}
		printTracks(s.Queue, current)
	}
	fmt.Println()
}

func printCurrent(s apiconnect.State) {
	if s.CurrentTrack == nil {
		fmt.Println("\nNo current track")
		return
	}
	t := s.CurrentTrack
	fmt.Printf("\nCurrent Track:\n")
	fmt.Printf("  Track ID: %s\n", t.ID)
	fmt.Printf("  Title: %s\n", t.Title)
	fmt.Printf("  Artist: %s\n", t.Artist)
	fmt.Printf("  Album: %s\n", t.Album)
	fmt.Printf("  Position: %s / %s (remaining %s)\n",
		formatMs(s.PositionMs), formatMs(s.DurationMs), formatMs(s.RemainingMs))
}

func printTracks(tracks []apiconnect.Track, current string) {
	for i, t := range tracks {
		marker := " "
		if t.ID == current {
			marker = "▶"
		}
		fmt.Printf(" %s %2d. %s - %s [%s] (%s)\n", marker, i+1, t.Artist, t.Title, formatMs(t.DurationMs), t.ID)
	}
}

func printPlaylist(p *apiconnect.Playlist) {
	fmt.Printf("\n=== %s ===\n", p.Name)
	fmt.Printf("ID: %s\n", p.ID)
	fmt.Printf("Created: %s\n", p.CreatedAt)
	if p.CoverURI != "" {
		fmt.Printf("Cover: %s\n", p.CoverURI)
	}
	fmt.Printf("Duration: %s\n\n", formatMs(p.TotalDurationMs))
	printTracks(p.Tracks, "")
	fmt.Println()
}

func printDevices(devices []apiconnect.Device) {
	fmt.Println("\nDevices:")
	for _, d := range devices {
		marker := " "
		if d.Active {
			marker = "*"
		}
		fmt.Printf("  %s %s\n", marker, d.Name)
	}
	fmt.Println()
}

func printLoadResponse(resp *apiconnect.LoadResponse, err error) {
	exitOnError(err)
	fmt.Printf("✓ Queued %d tracks\n", resp.Queued)
	for _, r := range resp.Rejected {
		fmt.Printf("  ✗ %s (%s): %s by %s\n", r.Title, r.TrackID, r.Code, r.Filter)
	}
}

func formatState(state string) string {
	switch state {
	case "playing":
		return "▶️  Playing"
	case "stopped":
		return "⏸  Stopped"
	default:
		return "❓ Unknown"
	}
}

func formatMs(ms int64) string {
	d := (time.Duration(ms) * time.Millisecond).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
