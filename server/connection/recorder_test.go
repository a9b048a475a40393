package connection

import (
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type chanSink struct {
	writes chan []byte
	closed chan struct{}
}

func newChanSink() *chanSink {
	return &chanSink{
		writes: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (s *chanSink) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case s.writes <- buf:
	default:
	}

	return len(p), nil
}

func (s *chanSink) Close() error {
	close(s.closed)

	return nil
}

func (s *chanSink) next(t *testing.T) []byte {
	t.Helper()

	select {
	case buf := <-s.writes:
		return buf
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for recorder write")

		return nil
	}
}

func TestRecorderWritesLengthPrefixedFrames(t *testing.T) {
	pipe := media.NewPipe(media.KindAudio)

	handler, err := track.New(track.Params{
		Log:    logger.New(),
		Kind:   media.KindAudio,
		Source: pipe,
	})
	require.NoError(t, err)

	defer handler.Stop()

	sink := newChanSink()

	recorder, err := StartRecorder(RecorderParams{
		Log: logger.New(),
		Sink: func(media.Kind) (io.WriteCloser, error) {
			return sink, nil
		},
		Handlers: []*track.Handler{handler},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		for i := 0; i < 50; i++ {
			if err := pipe.Write(ctx, media.Frame{Kind: media.KindAudio, Data: []byte{1, 2, 3}}); err != nil {
				return
			}
		}
	}()

	header := sink.next(t)
	require.Len(t, header, 4)
	assert.EqualValues(t, 3, binary.BigEndian.Uint32(header))

	payload := sink.next(t)
	assert.Equal(t, []byte{1, 2, 3}, payload)

	require.NoError(t, recorder.Stop())

	select {
	case <-sink.closed:
	default:
		t.Fatal("recorder did not close its sink")
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "NEW", StateNew.String())
	assert.Equal(t, "CONNECTING", StateConnecting.String())
	assert.Equal(t, "CONNECTED", StateConnected.String())
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "FAILED", StateFailed.String())
	assert.Equal(t, "UNKNOWN", State(99).String())
}
