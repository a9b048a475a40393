package filter

import (
	"context"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// MuteFilter replaces frame content while a track is muted: silence for
// audio, black for video. One instance belongs to every track handler
// and is always applied last, after the user-configured chain. It is not
// listable or configurable through the filter API.
type MuteFilter struct {
	id      identifiers.FilterID
	channel media.Kind
}

var _ Filter = &MuteFilter{}

func NewMuteFilter(channel media.Kind) *MuteFilter {
	return &MuteFilter{
		id:      identifiers.FilterID("mute-" + channel.String()),
		channel: channel,
	}
}

func (f *MuteFilter) ID() identifiers.FilterID {
	return f.id
}

func (f *MuteFilter) Name() string {
	if f.channel == media.KindAudio {
		return "MuteAudio"
	}

	return "MuteVideo"
}

func (f *MuteFilter) Channel() media.Kind {
	return f.channel
}

func (f *MuteFilter) Config() message.FilterConfig {
	return message.FilterConfig{
		Name:    f.Name(),
		ID:      f.id,
		Type:    f.Name(),
		Channel: f.channel.String(),
	}
}

func (f *MuteFilter) SetConfig(message.FilterConfig) {}

// Process zeroes the frame payload, keeping timing and geometry intact
// so that downstream consumers observe an uninterrupted stream.
func (f *MuteFilter) Process(_ context.Context, frame media.Frame) (media.Frame, error) {
	muted := frame
	muted.Data = make([]byte, len(frame.Data))

	return muted, nil
}
