// Package filter defines the per-track filter contract and the static
// registry of available filter types.
package filter

import (
	"context"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/experiment-hub/experiment-hub/server/message"
)

// Category governs whether a filter type is advertised to clients.
type Category string

const (
	// CategoryNone filters are never advertised.
	CategoryNone Category = "NONE"
	// CategoryTest filters are advertised in test deployments only.
	CategoryTest Category = "TEST"
	// CategorySession filters are advertised for session configuration.
	CategorySession Category = "SESSION"
)

// Filter transforms frames of one track. Implementations may keep
// per-instance state across frames.
type Filter interface {
	// ID is unique per track, assigned at creation.
	ID() identifiers.FilterID

	// Name is the static type name the instance was created from.
	Name() string

	// Channel is the kind of track the filter applies to.
	Channel() media.Kind

	// Config returns the current configuration.
	Config() message.FilterConfig

	// SetConfig updates the configuration in place, preserving identity
	// and accumulated state.
	SetConfig(config message.FilterConfig)

	// Process transforms one frame. It may suspend on external work.
	Process(ctx context.Context, frame media.Frame) (media.Frame, error)
}

// DataProvider is implemented by filters that expose derived telemetry
// to clients on demand.
type DataProvider interface {
	FilterData() (message.FilterData, error)
}

// Cleaner is implemented by filters holding external resources that must
// be released deterministically when the filter is discarded.
type Cleaner interface {
	Cleanup() error
}

// Cleanup releases f's resources when it implements Cleaner.
func Cleanup(f Filter) error {
	if cleaner, ok := f.(Cleaner); ok {
		return cleaner.Cleanup()
	}

	return nil
}

// GroupFilter is a filter applied across multiple participants' tracks
// jointly. Each instance forwards per-frame data to an aggregator and
// receives aggregation results over a dedicated port pair.
type GroupFilter interface {
	Filter

	// ConnectAggregator wires the instance to its aggregator: dataPort
	// receives this participant's per-frame data, resultPort delivers
	// the aggregated result back.
	ConnectAggregator(dataPort, resultPort int) error
}
