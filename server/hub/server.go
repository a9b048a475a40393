// Package hub assembles the running server: experiment lifecycle,
// signaling websocket, HTTP API and metrics.
package hub

import (
	"context"
	"net"
	"net/http"

	"github.com/experiment-hub/experiment-hub/server/multierr"
	"github.com/juju/errors"
)

type ServerParams struct {
	TLSCertFile string
	TLSKeyFile  string
}

// Server runs the HTTP server until the context is cancelled or
// serving fails.
type Server struct {
	server *http.Server
	params ServerParams
}

func NewServer(params ServerParams, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Handler: handler,
		},
		params: params,
	}
}

func (s *Server) Start(ctx context.Context, l net.Listener) error {
	serveErr := make(chan error, 1)

	go func() {
		defer close(serveErr)

		var err error

		if s.params.TLSCertFile != "" {
			err = s.server.ServeTLS(l, s.params.TLSCertFile, s.params.TLSKeyFile)
		} else {
			err = s.server.Serve(l)
		}

		serveErr <- errors.Annotate(err, "serve")
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return errors.Trace(err)
	}

	err := errors.Trace(s.server.Close())

	if startErr := <-serveErr; startErr != nil {
		err = errors.Trace(startErr)
	}

	if !multierr.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}

	return nil
}
