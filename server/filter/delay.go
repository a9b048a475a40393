package filter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// Delay buffers audio frames and emits them a configurable number of
// frames late. Until the buffer is primed it emits silence of the same
// shape as the input.
type Delay struct {
	base

	mu     sync.Mutex
	queue  []media.Frame
	served int64
}

var _ Filter = &Delay{}
var _ DataProvider = &Delay{}

func delayDescriptor() Descriptor {
	min := float64(0)
	max := float64(250)
	step := float64(1)

	return Descriptor{
		Type:     "Delay",
		Category: CategoryTest,
		Channel:  media.KindAudio,
		DefaultConfig: map[string]message.FilterOption{
			"frames": {
				Value:        float64(10),
				DefaultValue: float64(10),
				Min:          &min,
				Max:          &max,
				Step:         &step,
			},
		},
		New: func(id identifiers.FilterID, config message.FilterConfig) (Filter, error) {
			return &Delay{
				base: newBase(id, "Delay", message.ChannelAudio, config),
			}, nil
		},
	}
}

func (f *Delay) Channel() media.Kind {
	return media.KindAudio
}

func (f *Delay) Process(_ context.Context, frame media.Frame) (media.Frame, error) {
	depth := int(f.optionFloat("frames", 10))
	if depth <= 0 {
		return frame, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.queue = append(f.queue, frame)

	if len(f.queue) <= depth {
		silent := frame
		silent.Data = make([]byte, len(frame.Data))

		return silent, nil
	}

	delayed := f.queue[0]
	f.queue = f.queue[1:]
	f.served++

	// Keep the delayed payload but present it with the current frame's
	// timing so the stream clock stays monotonic.
	delayed.PTS = frame.PTS

	return delayed, nil
}

// FilterData reports how many delayed frames have been served.
func (f *Delay) FilterData() (message.FilterData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(map[string]int64{
		"buffered": int64(len(f.queue)),
		"served":   f.served,
	})
	if err != nil {
		return message.FilterData{}, err
	}

	return message.FilterData{
		ID:   f.id,
		Name: f.name,
		Data: data,
	}, nil
}
