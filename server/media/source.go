package media

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Pipe is a channel-fed Source. Connections push decoded frames into a
// Pipe; track handlers consume them. It is also the workhorse of tests.
type Pipe struct {
	kind     Kind
	frames   chan Frame
	done     chan struct{}
	stopOnce sync.Once
}

var _ Source = &Pipe{}

func NewPipe(kind Kind) *Pipe {
	return &Pipe{
		kind:   kind,
		frames: make(chan Frame),
		done:   make(chan struct{}),
	}
}

func (p *Pipe) Kind() Kind {
	return p.kind
}

// Write hands a frame to the consumer. It returns ErrEnded when the pipe
// has been stopped.
func (p *Pipe) Write(ctx context.Context, frame Frame) error {
	select {
	case p.frames <- frame:
		return nil
	case <-p.done:
		return errors.Trace(ErrEnded)
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

func (p *Pipe) Recv(ctx context.Context) (Frame, error) {
	select {
	case frame := <-p.frames:
		return frame, nil
	case <-p.done:
		return Frame{}, errors.Trace(ErrEnded)
	case <-ctx.Done():
		return Frame{}, errors.Trace(ctx.Err())
	}
}

func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

func (p *Pipe) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}

// Blank is a Source producing empty frames on demand: silence for audio,
// black for video. Used as the placeholder before a real track arrives,
// so that subscribers always have something to read.
type Blank struct {
	kind     Kind
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	pts int64
}

var _ Source = &Blank{}

const (
	blankSampleRate = 48000
	blankSamples    = 960 // 20ms at 48kHz
	blankWidth      = 640
	blankHeight     = 480

	blankAudioInterval = 20 * time.Millisecond
	blankVideoInterval = 33 * time.Millisecond
)

func NewBlank(kind Kind) *Blank {
	return &Blank{
		kind: kind,
		done: make(chan struct{}),
	}
}

func (b *Blank) Kind() Kind {
	return b.kind
}

// Recv returns one empty frame per real-time frame interval. The pacing
// keeps a reader of a placeholder source at the cadence of a real track
// instead of a busy loop.
func (b *Blank) Recv(ctx context.Context) (Frame, error) {
	interval := blankAudioInterval
	if b.kind == KindVideo {
		interval = blankVideoInterval
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-b.done:
		return Frame{}, errors.Trace(ErrEnded)
	case <-ctx.Done():
		return Frame{}, errors.Trace(ctx.Err())
	}

	b.mu.Lock()
	pts := b.pts
	b.pts++
	b.mu.Unlock()

	if b.kind == KindAudio {
		return Frame{
			Kind:       KindAudio,
			Data:       make([]byte, blankSamples*2),
			PTS:        pts,
			SampleRate: blankSampleRate,
		}, nil
	}

	return Frame{
		Kind:   KindVideo,
		Data:   make([]byte, blankWidth*blankHeight*3),
		PTS:    pts,
		Width:  blankWidth,
		Height: blankHeight,
	}, nil
}

func (b *Blank) Done() <-chan struct{} {
	return b.done
}

func (b *Blank) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}
