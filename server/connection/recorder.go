package connection

import (
	"context"
	"encoding/binary"
	"io"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/multierr"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/juju/errors"
)

// Recorder drains one proxy per track into a sink, writing frames
// length-prefixed. Post-processing of the raw capture happens elsewhere.
type Recorder struct {
	log logger.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu      sync.Mutex
	stopErr multierr.MultiErr

	proxies []*track.Proxy
	sinks   []io.WriteCloser
}

type RecorderParams struct {
	Log      logger.Logger
	Sink     func(kind media.Kind) (io.WriteCloser, error)
	Handlers []*track.Handler
}

func StartRecorder(params RecorderParams) (*Recorder, error) {
	ctx, cancel := context.WithCancel(context.Background())

	r := &Recorder{
		log:    params.Log.WithNamespaceAppended("recorder"),
		cancel: cancel,
	}

	for _, handler := range params.Handlers {
		sink, err := params.Sink(handler.Kind())
		if err != nil {
			cancel()
			_ = r.Stop()

			return nil, errors.Annotatef(err, "open recording sink: %s", handler.Kind())
		}

		proxy := handler.Subscribe()

		r.proxies = append(r.proxies, proxy)
		r.sinks = append(r.sinks, sink)

		r.wg.Add(1)

		go r.record(ctx, proxy, sink)
	}

	return r, nil
}

func (r *Recorder) record(ctx context.Context, proxy *track.Proxy, sink io.Writer) {
	defer r.wg.Done()

	var header [4]byte

	for {
		frame, err := proxy.Recv(ctx)
		if err != nil {
			cause := errors.Cause(err)
			if cause != media.ErrEnded && cause != context.Canceled {
				r.log.Error("Recorder recv", errors.Trace(err), nil)
			}

			return
		}

		binary.BigEndian.PutUint32(header[:], uint32(len(frame.Data)))

		if _, err := sink.Write(header[:]); err != nil {
			r.addStopErr(errors.Annotate(err, "write frame header"))

			return
		}

		if _, err := sink.Write(frame.Data); err != nil {
			r.addStopErr(errors.Annotate(err, "write frame"))

			return
		}
	}
}

func (r *Recorder) addStopErr(err error) {
	r.mu.Lock()
	r.stopErr.Add(err)
	r.mu.Unlock()
}

// Stop ends recording and closes the sinks.
func (r *Recorder) Stop() error {
	r.stopOnce.Do(func() {
		r.cancel()

		for _, proxy := range r.proxies {
			proxy.Stop()
		}

		r.wg.Wait()

		for _, sink := range r.sinks {
			r.addStopErr(errors.Annotate(sink.Close(), "close recording sink"))
		}
	})

	r.mu.Lock()
	defer r.mu.Unlock()

	return errors.Trace(r.stopErr.Err())
}
