package filter

import (
	"context"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// EdgeOutline replaces video frames with a horizontal-gradient outline.
type EdgeOutline struct {
	base
}

var _ Filter = &EdgeOutline{}

func edgeOutlineDescriptor() Descriptor {
	min := float64(0)
	max := float64(255)
	step := float64(1)

	return Descriptor{
		Type:     "EdgeOutline",
		Category: CategorySession,
		Channel:  media.KindVideo,
		DefaultConfig: map[string]message.FilterOption{
			"threshold": {
				Value:        float64(32),
				DefaultValue: float64(32),
				Min:          &min,
				Max:          &max,
				Step:         &step,
			},
		},
		New: func(id identifiers.FilterID, config message.FilterConfig) (Filter, error) {
			return &EdgeOutline{
				base: newBase(id, "EdgeOutline", message.ChannelVideo, config),
			}, nil
		},
	}
}

func (f *EdgeOutline) Channel() media.Kind {
	return media.KindVideo
}

func (f *EdgeOutline) Process(_ context.Context, frame media.Frame) (media.Frame, error) {
	w, h := frame.Width, frame.Height
	if w <= 0 || h <= 0 || len(frame.Data) < w*h*3 {
		return frame, nil
	}

	threshold := int(f.optionFloat("threshold", 32))

	out := make([]byte, len(frame.Data))

	for y := 0; y < h; y++ {
		for x := 1; x < w; x++ {
			cur := (y*w + x) * 3
			prev := (y*w + x - 1) * 3

			diff := luma(frame.Data[cur:cur+3]) - luma(frame.Data[prev:prev+3])
			if diff < 0 {
				diff = -diff
			}

			if diff >= threshold {
				out[cur] = 0xff
				out[cur+1] = 0xff
				out[cur+2] = 0xff
			}
		}
	}

	outlined := frame
	outlined.Data = out

	return outlined, nil
}

// luma approximates perceived brightness of one BGR pixel.
func luma(bgr []byte) int {
	return (int(bgr[2])*299 + int(bgr[1])*587 + int(bgr[0])*114) / 1000
}
