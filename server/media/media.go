// Package media defines the frame model shared by tracks, filters and
// connections.
package media

import (
	"context"

	"github.com/juju/errors"
)

// Kind is the kind of a media track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known track kind.
func (k Kind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// ErrEnded is returned by Recv once a source has ended.
var ErrEnded = errors.New("media stream ended")

// Frame is one decoded media frame. Data holds raw samples: interleaved
// PCM for audio, packed BGR for video.
type Frame struct {
	Kind Kind
	Data []byte
	PTS  int64

	// SampleRate is set for audio frames.
	SampleRate int

	// Width and Height are set for video frames.
	Width  int
	Height int
}

// Source produces a sequence of frames for one track.
type Source interface {
	Kind() Kind

	// Recv returns the next frame. It returns ErrEnded after the source
	// has ended.
	Recv(ctx context.Context) (Frame, error)

	// Done is closed when the source has ended.
	Done() <-chan struct{}

	// Stop ends the source. Safe to call more than once.
	Stop()
}
