package message

import (
	"encoding/json"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
)

// SessionDescription carries an SDP blob during the offer/answer
// exchange.
type SessionDescription struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// RTCIceCandidate mirrors the client-side RTCIceCandidateInit shape.
type RTCIceCandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
	UsernameFragment *string `json:"usernameFragment"`
}

// ConnectionProposal announces a new sub-connection to a subscriber. The
// participant summary is the stream owner's raw id for experimenter
// subscribers and a sanitized summary for everyone else.
type ConnectionProposal struct {
	ID                 identifiers.SubConnID `json:"id"`
	ParticipantSummary interface{}           `json:"participant_summary"`
}

// ConnectionOffer is the subscriber's SDP offer answering a proposal.
type ConnectionOffer struct {
	ID    identifiers.SubConnID `json:"id"`
	Offer SessionDescription    `json:"offer"`
}

// ConnectionAnswer completes the offer/answer exchange for one
// sub-connection.
type ConnectionAnswer struct {
	ID     identifiers.SubConnID `json:"id"`
	Answer SessionDescription    `json:"answer"`
}

// AddIceCandidate carries a trickled candidate for one sub-connection.
type AddIceCandidate struct {
	ID        identifiers.SubConnID `json:"id"`
	Candidate RTCIceCandidate       `json:"candidate"`
}

// Ping is sent to the client on a fixed cadence; the client echoes it
// back inside a Pong.
type Ping struct {
	Sent int64  `json:"sent"`
	Data string `json:"data"`
}

// Pong is the client's reply to a Ping.
type Pong struct {
	HandledTime int64 `json:"handled_time"`
	PingData    Ping  `json:"ping_data"`
}

// Success acknowledges a request that has no other response payload.
type Success struct {
	Type        Type   `json:"type"`
	Description string `json:"description"`
}

// ParticipantSummary is the sanitized view of a participant exposed to
// other participants. It carries no internal ids.
type ParticipantSummary struct {
	Name     string   `json:"name"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MuteRequest sets a participant's mute state.
type MuteRequest struct {
	ParticipantID identifiers.UserID `json:"participant_id"`
	MuteVideo     bool               `json:"mute_video"`
	MuteAudio     bool               `json:"mute_audio"`
}

// SetFiltersRequest replaces a participant's audio and video filter
// chains wholesale.
type SetFiltersRequest struct {
	ParticipantID identifiers.UserID `json:"participant_id"`
	AudioFilters  []FilterConfig     `json:"audio_filters"`
	VideoFilters  []FilterConfig     `json:"video_filters"`
}

// GetFiltersDataRequest asks for derived telemetry of one or all filter
// instances with a given name.
type GetFiltersDataRequest struct {
	ParticipantID identifiers.UserID `json:"participant_id"`
	FilterID      string             `json:"filter_id"`
	FilterName    string             `json:"filter_name"`
	FilterChannel string             `json:"filter_channel"`
}

// FiltersData is the reply to GetFiltersDataRequest for one participant.
type FiltersData struct {
	Video []FilterData `json:"video"`
	Audio []FilterData `json:"audio"`
}

// FilterData is one filter instance's telemetry payload.
type FilterData struct {
	ID   identifiers.FilterID `json:"id"`
	Name string               `json:"name"`
	Data json.RawMessage      `json:"data"`
}

// ChatMessage relays a chat line between users.
type ChatMessage struct {
	Message string             `json:"message"`
	Author  identifiers.UserID `json:"author"`
	Target  identifiers.UserID `json:"target"`
	Time    int64              `json:"time"`
}

// KickRequest removes a participant from an experiment.
type KickRequest struct {
	ParticipantID identifiers.UserID `json:"participant_id"`
	Reason        string             `json:"reason"`
}
