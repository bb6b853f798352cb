package spotify

import (
	"context"
	"time"

	"github.com/zmb3/spotify/v2"
)

// Device is a Spotify Connect device.
type Device struct {
	ID         string
	Name       string
	Type       string
	Active     bool
	Restricted bool
}

// PlayerState is the part of the Connect player state the remote device tracks.
type PlayerState struct {
	DeviceID string
	TrackID  string
	Playing  bool
	Progress time.Duration
	Duration time.Duration
}

// Player is the Connect player API used by RemoteBackend.
type Player interface {
	Devices(ctx context.Context) ([]Device, error)
	State(ctx context.Context) (*PlayerState, error)
	// Play starts uri on the device, or resumes when uri is empty.
	Play(ctx context.Context, deviceID, uri string) error
	Pause(ctx context.Context, deviceID string) error
	Seek(ctx context.Context, deviceID string, pos time.Duration) error
	Volume(ctx context.Context, deviceID string, percent int) error
}

// webPlayer implements Player with the Web API.
type webPlayer struct {
	client *spotify.Client
}

func playOptions(deviceID string) *spotify.PlayOptions {
	opt := &spotify.PlayOptions{}
	if deviceID != "" {
		id := spotify.ID(deviceID)
		opt.DeviceID = &id
	}
	return opt
}

func (p *webPlayer) Devices(ctx context.Context) ([]Device, error) {
	devices, err := p.client.PlayerDevices(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]Device, 0, len(devices))
	for _, d := range devices {
		result = append(result, Device{
			ID:         string(d.ID),
			Name:       d.Name,
			Type:       d.Type,
			Active:     d.Active,
			Restricted: d.Restricted,
		})
	}
	return result, nil
}

func (p *webPlayer) State(ctx context.Context) (*PlayerState, error) {
	st, err := p.client.PlayerState(ctx)
	if err != nil {
		return nil, err
	}
	// No active playback returns an empty body
	if st == nil {
		return &PlayerState{}, nil
	}

	state := &PlayerState{
		DeviceID: string(st.Device.ID),
		Playing:  st.Playing,
		Progress: time.Duration(st.Progress) * time.Millisecond,
	}
	if st.Item != nil {
		state.TrackID = string(st.Item.ID)
		state.Duration = time.Duration(st.Item.Duration) * time.Millisecond
	}
	return state, nil
}

func (p *webPlayer) Play(ctx context.Context, deviceID, uri string) error {
	opt := playOptions(deviceID)
	if uri != "" {
		opt.URIs = []spotify.URI{spotify.URI(uri)}
	}
	return p.client.PlayOpt(ctx, opt)
}

func (p *webPlayer) Pause(ctx context.Context, deviceID string) error {
	return p.client.PauseOpt(ctx, playOptions(deviceID))
}

func (p *webPlayer) Seek(ctx context.Context, deviceID string, pos time.Duration) error {
	return p.client.SeekOpt(ctx, int(pos/time.Millisecond), playOptions(deviceID))
}

func (p *webPlayer) Volume(ctx context.Context, deviceID string, percent int) error {
	return p.client.VolumeOpt(ctx, percent, playOptions(deviceID))
}
