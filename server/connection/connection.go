// Package connection abstracts one peer's transport: the main WebRTC
// connection carrying its media and messages, plus a sub-connection per
// subscriber relaying filtered tracks out.
package connection

import (
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/track"
)

// State is the lifecycle state of a peer connection.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// StateListener observes connection state transitions.
type StateListener func(State)

// Connection is the transport boundary consumed by the user layer. The
// user layer drives the subscription protocol through it and never
// touches WebRTC directly.
type Connection interface {
	// CreateSubscriberProposal allocates a sub-connection for a new
	// subscriber and returns the proposal to send to them. The payload is
	// the subscriber-facing identity: a raw id for experimenters, a
	// sanitized summary for participants.
	CreateSubscriberProposal(payload interface{}) (message.ConnectionProposal, error)

	// HandleSubscriberOffer completes the handshake for a proposal: the
	// subscriber's offer in, our answer out.
	HandleSubscriberOffer(offer message.ConnectionOffer) (message.ConnectionAnswer, error)

	// HandleSubscriberCandidate forwards a trickled ICE candidate to the
	// matching sub-connection.
	HandleSubscriberCandidate(candidate message.AddIceCandidate) error

	// StopSubConnection tears down one sub-connection. Unknown ids return
	// an error; stopping twice is the caller's bug.
	StopSubConnection(id identifiers.SubConnID) error

	SetMuted(video, audio bool)

	SetVideoFilters(configs []message.FilterConfig) error
	SetAudioFilters(configs []message.FilterConfig) error
	SetVideoGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error
	SetAudioGroupFilters(configs []message.FilterConfig, ports []track.PortPair) error

	GetVideoFiltersData(filterID, filterName string) ([]message.FilterData, error)
	GetAudioFiltersData(filterID, filterName string) ([]message.FilterData, error)

	StartRecording() error
	StopRecording() error

	// Send delivers a message to the remote peer. The caller is expected
	// to check State first; sending on a non-connected transport fails.
	Send(msg message.Message) error

	State() State

	// OnStateChange registers a listener for state transitions. Listeners
	// run in registration order and cannot be removed.
	OnStateChange(listener StateListener)

	// Close tears down the main connection and every sub-connection.
	Close() error
}
