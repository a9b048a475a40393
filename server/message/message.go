package message

import "encoding/json"

// Message is the wire envelope exchanged with clients. The data payload
// depends on the message type.
type Message struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Type string

const (
	TypeConnectionProposal Type = "CONNECTION_PROPOSAL"
	TypeConnectionOffer    Type = "CONNECTION_OFFER"
	TypeConnectionAnswer   Type = "CONNECTION_ANSWER"
	TypeAddIceCandidate    Type = "ADD_ICE_CANDIDATE"

	TypePing Type = "PING"
	TypePong Type = "PONG"

	TypeSuccess Type = "SUCCESS"
	TypeError   Type = "ERROR"

	TypeMute             Type = "MUTE"
	TypeSetFilters       Type = "SET_FILTERS"
	TypeSetGroupFilters  Type = "SET_GROUP_FILTERS"
	TypeGetFiltersData   Type = "GET_FILTERS_DATA"
	TypeFiltersData      Type = "FILTERS_DATA"
	TypeGetFiltersConfig Type = "GET_FILTERS_CONFIG"
	TypeFiltersConfig    Type = "FILTERS_CONFIG"

	TypeChat              Type = "CHAT"
	TypeKickParticipant   Type = "KICK_PARTICIPANT"
	TypeBanParticipant    Type = "BAN_PARTICIPANT"
	TypeKickNotification  Type = "KICK_NOTIFICATION"
	TypeBanNotification   Type = "BAN_NOTIFICATION"
	TypeExperimentStarted Type = "EXPERIMENT_STARTED"
	TypeExperimentEnded   Type = "EXPERIMENT_ENDED"
)

func (t Type) String() string {
	return string(t)
}

// New builds a Message with payload marshaled into the data field.
// Payload types in this package marshal without error; a marshal failure
// of a foreign payload results in a null data field.
func New(t Type, payload interface{}) Message {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("null")
	}

	return Message{
		Type: t,
		Data: data,
	}
}

// NewError wraps a domain error value into an ERROR message.
func NewError(err *Error) Message {
	return New(TypeError, err)
}

// NewSuccess builds a SUCCESS message acknowledging a request of the
// given type.
func NewSuccess(requestType Type, description string) Message {
	return New(TypeSuccess, Success{
		Type:        requestType,
		Description: description,
	})
}
