package filter_test

import (
	"context"
	"testing"

	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	_, ok := r.Get("Rotation")
	assert.True(t, ok)

	_, ok = r.Get("Nope")
	assert.False(t, ok)
}

func TestRegistryDuplicate(t *testing.T) {
	r := filter.NewRegistry()

	desc := filter.Descriptor{Type: "X", Category: filter.CategoryNone}

	require.NoError(t, r.Register(desc))
	assert.Error(t, r.Register(desc))
}

func TestRegistryValidate(t *testing.T) {
	r := filter.NewRegistry()

	require.NoError(t, r.Register(filter.Descriptor{
		Type:     "NeedsOther",
		Category: filter.CategoryNone,
		DefaultConfig: map[string]message.FilterOption{
			"other": {RequiresOtherFilter: "Missing"},
		},
	}))

	assert.Error(t, r.Validate())

	require.NoError(t, r.Register(filter.Descriptor{
		Type:     "Missing",
		Category: filter.CategoryNone,
	}))

	assert.NoError(t, r.Validate())
}

func TestRegistryCatalog(t *testing.T) {
	r, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	types := func(descs []filter.Descriptor) []string {
		var ret []string
		for _, d := range descs {
			ret = append(ret, d.Type)
		}

		return ret
	}

	assert.NotContains(t, types(r.Catalog(false)), "Delay")
	assert.Contains(t, types(r.Catalog(true)), "Delay")
	assert.Contains(t, types(r.Catalog(false)), "Rotation")
}

func TestMuteFilter(t *testing.T) {
	f := filter.NewMuteFilter(media.KindAudio)

	frame := media.Frame{
		Kind:       media.KindAudio,
		Data:       []byte{1, 2, 3, 4},
		PTS:        7,
		SampleRate: 48000,
	}

	muted, err := f.Process(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, []byte{0, 0, 0, 0}, muted.Data)
	assert.EqualValues(t, 7, muted.PTS)
	assert.Equal(t, 48000, muted.SampleRate)
}

func TestRotation(t *testing.T) {
	r, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	desc, ok := r.Get("Rotation")
	require.True(t, ok)

	f, err := desc.New("f1", message.FilterConfig{
		Config: map[string]message.FilterOption{
			"quarterTurns": {Value: float64(1)},
		},
	})
	require.NoError(t, err)

	// 2x1 frame: pixels A, B.
	frame := media.Frame{
		Kind:   media.KindVideo,
		Data:   []byte{1, 1, 1, 2, 2, 2},
		Width:  2,
		Height: 1,
	}

	rotated, err := f.Process(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, 1, rotated.Width)
	assert.Equal(t, 2, rotated.Height)
	assert.Equal(t, []byte{1, 1, 1, 2, 2, 2}, rotated.Data)
}

func TestDelayEmitsSilenceThenPayload(t *testing.T) {
	r, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	desc, ok := r.Get("Delay")
	require.True(t, ok)

	f, err := desc.New("f1", message.FilterConfig{
		Config: map[string]message.FilterOption{
			"frames": {Value: float64(1)},
		},
	})
	require.NoError(t, err)

	ctx := context.Background()

	first, err := f.Process(ctx, media.Frame{Kind: media.KindAudio, Data: []byte{9, 9}, PTS: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0}, first.Data)

	second, err := f.Process(ctx, media.Frame{Kind: media.KindAudio, Data: []byte{5, 5}, PTS: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, second.Data)
	assert.EqualValues(t, 2, second.PTS)
}
