package filter

import (
	"context"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// Rotation rotates video frames in 90 degree steps.
type Rotation struct {
	base
}

var _ Filter = &Rotation{}

func rotationDescriptor() Descriptor {
	step := float64(1)
	min := float64(0)
	max := float64(3)

	return Descriptor{
		Type:     "Rotation",
		Category: CategorySession,
		Channel:  media.KindVideo,
		DefaultConfig: map[string]message.FilterOption{
			"quarterTurns": {
				Value:        float64(1),
				DefaultValue: float64(1),
				Min:          &min,
				Max:          &max,
				Step:         &step,
			},
		},
		New: func(id identifiers.FilterID, config message.FilterConfig) (Filter, error) {
			return &Rotation{
				base: newBase(id, "Rotation", message.ChannelVideo, config),
			}, nil
		},
	}
}

func (f *Rotation) Channel() media.Kind {
	return media.KindVideo
}

func (f *Rotation) Process(_ context.Context, frame media.Frame) (media.Frame, error) {
	turns := int(f.optionFloat("quarterTurns", 1)) % 4
	if turns < 0 {
		turns += 4
	}

	for i := 0; i < turns; i++ {
		frame = rotate90(frame)
	}

	return frame, nil
}

// rotate90 rotates a packed BGR frame clockwise, swapping its geometry.
func rotate90(frame media.Frame) media.Frame {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 || len(frame.Data) < w*h*3 {
		return frame
	}

	out := make([]byte, len(frame.Data))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := (y*w + x) * 3
			dst := (x*h + (h - 1 - y)) * 3

			copy(out[dst:dst+3], frame.Data[src:src+3])
		}
	}

	rotated := frame
	rotated.Data = out
	rotated.Width = h
	rotated.Height = w

	return rotated
}
