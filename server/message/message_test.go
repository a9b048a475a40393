package message_test

import (
	"encoding/json"
	"testing"

	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundTrip(t *testing.T) {
	msg := message.New(message.TypePing, message.Ping{Sent: 123})

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded message.Message
	require.NoError(t, json.Unmarshal(b, &decoded))

	assert.Equal(t, message.TypePing, decoded.Type)

	var ping message.Ping
	require.NoError(t, json.Unmarshal(decoded.Data, &ping))
	assert.EqualValues(t, 123, ping.Sent)
}

func TestUnmarshalConnectionOffer(t *testing.T) {
	testCases := []struct {
		descr string
		data  string
		ok    bool
	}{
		{"valid", `{"id":"s1","offer":{"sdp":"v=0","type":"offer"}}`, true},
		{"missing id", `{"offer":{"sdp":"v=0","type":"offer"}}`, false},
		{"missing sdp", `{"id":"s1","offer":{"type":"offer"}}`, false},
		{"missing type", `{"id":"s1","offer":{"sdp":"v=0"}}`, false},
		{"not an object", `"hello"`, false},
	}

	for _, tc := range testCases {
		offer, ok := message.UnmarshalConnectionOffer(json.RawMessage(tc.data))

		assert.Equal(t, tc.ok, ok, tc.descr)

		if tc.ok {
			assert.EqualValues(t, "s1", offer.ID, tc.descr)
		}
	}
}

func TestUnmarshalAddIceCandidate(t *testing.T) {
	testCases := []struct {
		descr string
		data  string
		ok    bool
	}{
		{"valid", `{"id":"s1","candidate":{"candidate":"candidate:1"}}`, true},
		{"end of candidates", `{"id":"s1","candidate":{"candidate":""}}`, true},
		{"missing candidate", `{"id":"s1"}`, false},
		{"missing id", `{"candidate":{"candidate":"candidate:1"}}`, false},
		{"not an object", `42`, false},
	}

	for _, tc := range testCases {
		candidate, ok := message.UnmarshalAddIceCandidate(json.RawMessage(tc.data))

		assert.Equal(t, tc.ok, ok, tc.descr)

		if tc.ok {
			assert.EqualValues(t, "s1", candidate.ID, tc.descr)
		}
	}
}

func TestDomainError(t *testing.T) {
	domainErr := message.NewDomainError(404, message.ErrTypeUnknownFilterID, `Unknown filter ID: "x".`)

	wrapped := errors.Annotate(domainErr, "set filters")

	unwrapped, ok := message.AsDomainError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 404, unwrapped.Code)
	assert.Equal(t, message.ErrTypeUnknownFilterID, unwrapped.Type)

	_, ok = message.AsDomainError(errors.New("plain"))
	assert.False(t, ok)

	msg := unwrapped.Message()
	assert.Equal(t, message.TypeError, msg.Type)

	var payload message.Error
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	assert.Equal(t, 404, payload.Code)
}

func TestDuplicateFilterIDs(t *testing.T) {
	_, dup := message.DuplicateFilterIDs([]message.FilterConfig{
		{ID: ""}, {ID: ""}, {ID: "a"}, {ID: "b"},
	})
	assert.False(t, dup)

	id, dup := message.DuplicateFilterIDs([]message.FilterConfig{
		{ID: "a"}, {ID: "b"}, {ID: "a"},
	})
	assert.True(t, dup)
	assert.EqualValues(t, "a", id)
}
