package track

import (
	"context"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/juju/errors"
)

// relay runs a single read loop over the handler and fans frames out to
// proxies. Exactly one reader touches Handler.Recv, so adding a second
// subscriber never halves the frame rate of the first.
type relay struct {
	handler *Handler

	mu      sync.Mutex
	proxies map[*Proxy]struct{}
	started bool
	closed  bool
}

func newRelay(handler *Handler) *relay {
	return &relay{
		handler: handler,
		proxies: map[*Proxy]struct{}{},
	}
}

func (r *relay) subscribe() *Proxy {
	proxy := &Proxy{
		relay:  r,
		frames: make(chan media.Frame, 1),
		done:   make(chan struct{}),
	}

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		proxy.close()

		return proxy
	}

	r.proxies[proxy] = struct{}{}

	start := !r.started
	r.started = true

	r.mu.Unlock()

	if start {
		go r.loop()
	}

	return proxy
}

func (r *relay) unsubscribe(proxy *Proxy) {
	r.mu.Lock()
	delete(r.proxies, proxy)
	r.mu.Unlock()
}

func (r *relay) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-r.handler.done
		cancel()
	}()

	for {
		frame, err := r.handler.Recv(ctx)
		if err != nil {
			cause := errors.Cause(err)
			if cause != media.ErrEnded && cause != context.Canceled {
				r.handler.log.Error("Relay recv", errors.Trace(err), nil)
			}

			r.close()

			return
		}

		r.mu.Lock()

		for proxy := range r.proxies {
			// A slow consumer loses frames rather than stalling everyone
			// reading the same track.
			select {
			case proxy.frames <- frame:
			default:
			}
		}

		r.mu.Unlock()
	}
}

func (r *relay) close() {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true

	proxies := make([]*Proxy, 0, len(r.proxies))
	for proxy := range r.proxies {
		proxies = append(proxies, proxy)
	}

	r.proxies = map[*Proxy]struct{}{}

	r.mu.Unlock()

	for _, proxy := range proxies {
		proxy.close()
	}
}

// Proxy is one subscriber's view of a handler's output. It implements
// media.Source, so a proxy can feed another handler or a peer
// connection bridge directly.
type Proxy struct {
	relay    *relay
	frames   chan media.Frame
	done     chan struct{}
	stopOnce sync.Once
}

var _ media.Source = &Proxy{}

func (p *Proxy) Kind() media.Kind {
	return p.relay.handler.kind
}

func (p *Proxy) Recv(ctx context.Context) (media.Frame, error) {
	select {
	case frame := <-p.frames:
		return frame, nil
	case <-p.done:
		return media.Frame{}, errors.Trace(media.ErrEnded)
	case <-ctx.Done():
		return media.Frame{}, errors.Trace(ctx.Err())
	}
}

func (p *Proxy) Done() <-chan struct{} {
	return p.done
}

// Stop unsubscribes the proxy. Other proxies of the same handler are
// unaffected.
func (p *Proxy) Stop() {
	p.relay.unsubscribe(p)
	p.close()
}

func (p *Proxy) close() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
}
