// Package user implements the peer session object: message dispatch,
// the subscription protocol between peers, deferred actions until a
// connection binds, and ping based latency tracking.
package user

import (
	"time"

	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/emitter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/track"
)

// Events observable on a user's dispatch table.
const (
	// EventDisconnected fires exactly once when the user disconnects.
	EventDisconnected emitter.Event = "disconnected"

	// EventConnectionOffer carries a validated message.ConnectionOffer.
	// Emitted instead of regular handler dispatch so that subscription
	// bookkeeping can intercept offers by proposal id.
	EventConnectionOffer emitter.Event = "connection_offer"

	// EventAddIceCandidate carries a validated message.AddIceCandidate.
	EventAddIceCandidate emitter.Event = "add_ice_candidate"
)

// MessageHandler processes one inbound message. A nil reply means no
// response is sent. Domain errors become ERROR replies; any other error
// becomes a generic internal error reply.
type MessageHandler func(msg message.Message) (*message.Message, error)

// User is one connected peer session, experimenter or participant.
type User interface {
	ID() identifiers.UserID

	// Experimenter reports whether this user receives raw ids in
	// proposals instead of sanitized summaries.
	Experimenter() bool

	// Summary is the sanitized identity payload shown to non-experimenter
	// subscribers.
	Summary() interface{}

	// Bound reports whether a connection has been attached.
	Bound() bool

	// Events exposes the user's dispatch table so that peers can observe
	// its disconnect/offer/candidate events.
	Events() *emitter.Emitter

	// SetConnection binds the transport. It may be called exactly once;
	// deferred actions queued before binding flush in registration order.
	SetConnection(conn connection.Connection) error

	// Send delivers a message if the connection is present and connected,
	// and drops it otherwise.
	Send(msg message.Message)

	// OnMessage registers a handler for an endpoint. Multiple handlers
	// per endpoint run in registration order.
	OnMessage(endpoint message.Type, handler MessageHandler)

	// HandleMessage dispatches one inbound message.
	HandleMessage(msg message.Message)

	// AddSubscriber starts the proposal/offer/answer exchange delivering
	// this user's stream to target. Duplicate calls for the same target
	// are no-ops while the subscription lasts.
	AddSubscriber(target User)

	// RemoveSubscriber stops the sub-connection serving target. Removing
	// a non-subscriber is a logged no-op.
	RemoveSubscriber(target User)

	SetMuted(video, audio bool)
	Muted() (video, audio bool)

	SetVideoFilters(configs []message.FilterConfig) error
	SetAudioFilters(configs []message.FilterConfig) error
	SetVideoGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error
	SetAudioGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error
	VideoFiltersData(filterID, filterName string) ([]message.FilterData, error)
	AudioFiltersData(filterID, filterName string) ([]message.FilterData, error)

	StartRecording() error
	StopRecording() error

	// StartPinging begins the outbound ping loop. Idempotent.
	StartPinging(period, window time.Duration)
	StopPinging()

	// GetCurrentPing returns the mean round-trip time in milliseconds
	// over the sample window, or 0 when no samples exist.
	GetCurrentPing() int64

	// Disconnect is idempotent: the disconnected event fires and the
	// listener table is cleared exactly once.
	Disconnect()
	Disconnected() bool
}
