// Package test provides shared test doubles for the hub.
package test

import (
	"fmt"
	"sync"

	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/track"
)

// FakeConn is a scripted Connection recording every call. The zero
// state is CONNECTED so that sends pass by default.
type FakeConn struct {
	mu sync.Mutex

	state     connection.State
	listeners []connection.StateListener

	sent       []message.Message
	proposals  int
	stopped    []identifiers.SubConnID
	muted      [][2]bool
	closes     int
	recordings int

	audioFilters [][]message.FilterConfig
	videoFilters [][]message.FilterConfig

	groupPorts [][]track.PortPair

	// OfferErr and CandidateErr are returned by the handshake methods
	// when set.
	OfferErr     error
	CandidateErr error

	// FiltersData is returned by the filters data getters.
	FiltersData []message.FilterData
}

var _ connection.Connection = &FakeConn{}

func NewFakeConn() *FakeConn {
	return &FakeConn{state: connection.StateConnected}
}

// SetState transitions the fake and notifies registered listeners.
func (f *FakeConn) SetState(state connection.State) {
	f.mu.Lock()
	f.state = state
	listeners := make([]connection.StateListener, len(f.listeners))
	copy(listeners, f.listeners)
	f.mu.Unlock()

	for _, listener := range listeners {
		listener(state)
	}
}

func (f *FakeConn) CreateSubscriberProposal(payload interface{}) (message.ConnectionProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.proposals++

	return message.ConnectionProposal{
		ID:                 identifiers.SubConnID(fmt.Sprintf("sub-%d", f.proposals)),
		ParticipantSummary: payload,
	}, nil
}

func (f *FakeConn) HandleSubscriberOffer(offer message.ConnectionOffer) (message.ConnectionAnswer, error) {
	f.mu.Lock()
	offerErr := f.OfferErr
	f.mu.Unlock()

	if offerErr != nil {
		return message.ConnectionAnswer{}, offerErr
	}

	return message.ConnectionAnswer{
		ID:     offer.ID,
		Answer: message.SessionDescription{SDP: "answer-sdp", Type: "answer"},
	}, nil
}

func (f *FakeConn) HandleSubscriberCandidate(message.AddIceCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.CandidateErr
}

func (f *FakeConn) StopSubConnection(id identifiers.SubConnID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = append(f.stopped, id)

	return nil
}

func (f *FakeConn) SetMuted(video, audio bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.muted = append(f.muted, [2]bool{video, audio})
}

func (f *FakeConn) SetVideoFilters(configs []message.FilterConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.videoFilters = append(f.videoFilters, configs)

	return nil
}

func (f *FakeConn) SetAudioFilters(configs []message.FilterConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.audioFilters = append(f.audioFilters, configs)

	return nil
}

func (f *FakeConn) SetVideoGroupFilters(_ []message.FilterConfig, ports []track.PortPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groupPorts = append(f.groupPorts, ports)

	return nil
}

func (f *FakeConn) SetAudioGroupFilters(_ []message.FilterConfig, ports []track.PortPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.groupPorts = append(f.groupPorts, ports)

	return nil
}

func (f *FakeConn) GetVideoFiltersData(string, string) ([]message.FilterData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.FiltersData, nil
}

func (f *FakeConn) GetAudioFiltersData(string, string) ([]message.FilterData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.FiltersData, nil
}

func (f *FakeConn) StartRecording() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recordings++

	return nil
}

func (f *FakeConn) StopRecording() error {
	return nil
}

func (f *FakeConn) Send(msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sent = append(f.sent, msg)

	return nil
}

func (f *FakeConn) State() connection.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *FakeConn) OnStateChange(listener connection.StateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listeners = append(f.listeners, listener)
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closes++

	return nil
}

// Sent returns a snapshot of every message sent through the fake.
func (f *FakeConn) Sent() []message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([]message.Message, len(f.sent))
	copy(ret, f.sent)

	return ret
}

// SentOfType filters Sent by message type.
func (f *FakeConn) SentOfType(t message.Type) []message.Message {
	var ret []message.Message

	for _, msg := range f.Sent() {
		if msg.Type == t {
			ret = append(ret, msg)
		}
	}

	return ret
}

func (f *FakeConn) Proposals() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.proposals
}

func (f *FakeConn) Stopped() []identifiers.SubConnID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([]identifiers.SubConnID, len(f.stopped))
	copy(ret, f.stopped)

	return ret
}

func (f *FakeConn) MutedCalls() [][2]bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([][2]bool, len(f.muted))
	copy(ret, f.muted)

	return ret
}

func (f *FakeConn) AudioFilterCalls() [][]message.FilterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([][]message.FilterConfig, len(f.audioFilters))
	copy(ret, f.audioFilters)

	return ret
}

func (f *FakeConn) VideoFilterCalls() [][]message.FilterConfig {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([][]message.FilterConfig, len(f.videoFilters))
	copy(ret, f.videoFilters)

	return ret
}

// GroupPortCalls returns the port pair slices handed to the group filter
// setters, in call order.
func (f *FakeConn) GroupPortCalls() [][]track.PortPair {
	f.mu.Lock()
	defer f.mu.Unlock()

	ret := make([][]track.PortPair, len(f.groupPorts))
	copy(ret, f.groupPorts)

	return ret
}

func (f *FakeConn) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closes
}

func (f *FakeConn) Recordings() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.recordings
}

// SetOfferErr scripts the next HandleSubscriberOffer failure.
func (f *FakeConn) SetOfferErr(err error) {
	f.mu.Lock()
	f.OfferErr = err
	f.mu.Unlock()
}
