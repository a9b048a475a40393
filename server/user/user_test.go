package user_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/test"
	"github.com/experiment-hub/experiment-hub/server/user"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newParticipant(t *testing.T, id string) (*user.Participant, *test.FakeConn) {
	t.Helper()

	p := newUnboundParticipant(t, id)

	conn := test.NewFakeConn()
	require.NoError(t, p.SetConnection(conn))

	return p, conn
}

func newUnboundParticipant(t *testing.T, id string) *user.Participant {
	t.Helper()

	p := user.NewParticipant(user.ParticipantParams{
		Log:     logger.New(),
		ID:      identifiers.UserID(id),
		Clock:   clock.NewMock(),
		Summary: message.ParticipantSummary{Name: "Subject " + id},
	})

	t.Cleanup(p.Disconnect)

	return p
}

func errorPayload(t *testing.T, msg message.Message) message.Error {
	t.Helper()

	require.Equal(t, message.TypeError, msg.Type)

	var ret message.Error
	require.NoError(t, json.Unmarshal(msg.Data, &ret))

	return ret
}

func TestHandleMessageNoHandler(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	p.HandleMessage(message.New(message.TypeChat, message.ChatMessage{Message: "hi"}))

	assert.Empty(t, conn.Sent())
}

func TestHandleMessageHandlerFault(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	p.OnMessage(message.TypeChat, func(message.Message) (*message.Message, error) {
		return nil, errors.New("boom")
	})

	p.HandleMessage(message.New(message.TypeChat, nil))

	sent := conn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, 500, errMsg.Code)
	assert.Equal(t, message.ErrTypeInternalServerError, errMsg.Type)

	// The session stays usable after a handler fault.
	replied := false

	p.OnMessage(message.TypeGetFiltersConfig, func(message.Message) (*message.Message, error) {
		replied = true

		return nil, nil
	})

	p.HandleMessage(message.New(message.TypeGetFiltersConfig, nil))
	assert.True(t, replied)
}

func TestHandleMessageDomainError(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	p.OnMessage(message.TypeChat, func(message.Message) (*message.Message, error) {
		return nil, errors.Trace(message.NewDomainError(
			409, message.ErrTypeNotConnectedToExperiment, "Not connected.",
		))
	})

	p.HandleMessage(message.New(message.TypeChat, nil))

	sent := conn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, 409, errMsg.Code)
	assert.Equal(t, message.ErrTypeNotConnectedToExperiment, errMsg.Type)
}

func TestHandleMessageHandlersInOrder(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	var order []int

	p.OnMessage(message.TypeChat, func(message.Message) (*message.Message, error) {
		order = append(order, 1)

		return nil, nil
	})

	p.OnMessage(message.TypeChat, func(message.Message) (*message.Message, error) {
		order = append(order, 2)

		reply := message.NewSuccess(message.TypeChat, "ok")

		return &reply, nil
	})

	p.HandleMessage(message.New(message.TypeChat, nil))

	assert.Equal(t, []int{1, 2}, order)
	assert.Len(t, conn.SentOfType(message.TypeSuccess), 1)
}

func TestInterceptInvalidOffer(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	intercepted := 0

	p.Events().On(user.EventConnectionOffer, func(interface{}) {
		intercepted++
	})

	p.HandleMessage(message.Message{
		Type: message.TypeConnectionOffer,
		Data: json.RawMessage(`{"id": ""}`),
	})

	sent := conn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, 400, errMsg.Code)
	assert.Equal(t, message.ErrTypeInvalidDatatype, errMsg.Type)
	assert.Zero(t, intercepted)
}

func TestInterceptValidOffer(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	var got message.ConnectionOffer

	p.Events().On(user.EventConnectionOffer, func(payload interface{}) {
		got = payload.(message.ConnectionOffer)
	})

	p.HandleMessage(message.New(message.TypeConnectionOffer, message.ConnectionOffer{
		ID:    "sub-1",
		Offer: message.SessionDescription{SDP: "sdp", Type: "offer"},
	}))

	assert.EqualValues(t, "sub-1", got.ID)
	assert.Empty(t, conn.SentOfType(message.TypeError))
}

func TestSetConnectionOnce(t *testing.T) {
	p, _ := newParticipant(t, "p1")

	assert.Error(t, p.SetConnection(test.NewFakeConn()))
}

func TestDeferredSetMuted(t *testing.T) {
	p := newUnboundParticipant(t, "p1")

	p.SetMuted(true, false)

	conn := test.NewFakeConn()
	require.Empty(t, conn.MutedCalls())

	require.NoError(t, p.SetConnection(conn))

	calls := conn.MutedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, [2]bool{true, false}, calls[0])
}

func TestAddSubscriberIdempotent(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target, targetConn := newParticipant(t, "target")

	owner.AddSubscriber(target)
	owner.AddSubscriber(target)

	assert.Equal(t, 1, ownerConn.Proposals())
	assert.Len(t, targetConn.SentOfType(message.TypeConnectionProposal), 1)

	subs := owner.Subscribers()
	require.Len(t, subs, 1)
	assert.EqualValues(t, "sub-1", subs[target.ID()])
}

func TestAddSubscriberTargetUnbound(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target := newUnboundParticipant(t, "target")

	owner.AddSubscriber(target)

	assert.Zero(t, ownerConn.Proposals())
	assert.Empty(t, owner.Subscribers())
}

func TestAddSubscriberDeferredUntilBound(t *testing.T) {
	owner := newUnboundParticipant(t, "owner")
	target, targetConn := newParticipant(t, "target")

	owner.AddSubscriber(target)

	assert.Empty(t, owner.Subscribers())

	require.NoError(t, owner.SetConnection(test.NewFakeConn()))

	assert.Len(t, targetConn.SentOfType(message.TypeConnectionProposal), 1)
	assert.Len(t, owner.Subscribers(), 1)
}

func TestSubscriberHandshake(t *testing.T) {
	owner, _ := newParticipant(t, "owner")
	target, targetConn := newParticipant(t, "target")

	owner.AddSubscriber(target)

	// The subscriber answers the proposal with an offer.
	target.HandleMessage(message.New(message.TypeConnectionOffer, message.ConnectionOffer{
		ID:    "sub-1",
		Offer: message.SessionDescription{SDP: "offer-sdp", Type: "offer"},
	}))

	answers := targetConn.SentOfType(message.TypeConnectionAnswer)
	require.Len(t, answers, 1)

	var answer message.ConnectionAnswer
	require.NoError(t, json.Unmarshal(answers[0].Data, &answer))
	assert.EqualValues(t, "sub-1", answer.ID)
	assert.Equal(t, "answer-sdp", answer.Answer.SDP)

	// The offer listener is one-shot per proposal.
	target.HandleMessage(message.New(message.TypeConnectionOffer, message.ConnectionOffer{
		ID:    "sub-1",
		Offer: message.SessionDescription{SDP: "offer-sdp", Type: "offer"},
	}))

	assert.Len(t, targetConn.SentOfType(message.TypeConnectionAnswer), 1)

	// Trickled candidates are acknowledged.
	target.HandleMessage(message.New(message.TypeAddIceCandidate, message.AddIceCandidate{
		ID:        "sub-1",
		Candidate: message.RTCIceCandidate{Candidate: "candidate:1"},
	}))

	successes := targetConn.SentOfType(message.TypeSuccess)
	require.Len(t, successes, 1)

	var ack message.Success
	require.NoError(t, json.Unmarshal(successes[0].Data, &ack))
	assert.Equal(t, message.TypeAddIceCandidate, ack.Type)
}

func TestSubscriberOfferDomainError(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target, targetConn := newParticipant(t, "target")

	ownerConn.SetOfferErr(message.NewDomainError(
		404, message.ErrTypeUnknownSubConnID, "No sub-connection found for the given id.",
	))

	owner.AddSubscriber(target)

	target.HandleMessage(message.New(message.TypeConnectionOffer, message.ConnectionOffer{
		ID:    "sub-1",
		Offer: message.SessionDescription{SDP: "offer-sdp", Type: "offer"},
	}))

	// The error goes to the requesting peer, not the owner.
	sent := targetConn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, message.ErrTypeUnknownSubConnID, errMsg.Type)
}

func TestTargetDisconnectStopsSubConnection(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target, _ := newParticipant(t, "target")

	owner.AddSubscriber(target)

	target.Disconnect()
	target.Disconnect()

	assert.Empty(t, owner.Subscribers())

	stopped := ownerConn.Stopped()
	require.Len(t, stopped, 1)
	assert.EqualValues(t, "sub-1", stopped[0])
}

func TestRemoveSubscriber(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target, _ := newParticipant(t, "target")

	owner.AddSubscriber(target)
	owner.RemoveSubscriber(target)

	assert.Empty(t, owner.Subscribers())

	// Double removal is a logged no-op, not a second stop.
	owner.RemoveSubscriber(target)

	assert.Len(t, ownerConn.Stopped(), 1)
}

func TestRemoveSubscriberMissing(t *testing.T) {
	owner, ownerConn := newParticipant(t, "owner")
	target, _ := newParticipant(t, "target")

	owner.RemoveSubscriber(target)

	assert.Empty(t, ownerConn.Stopped())
}

func TestProposalPayloadByTargetKind(t *testing.T) {
	owner, _ := newParticipant(t, "owner")

	experimenter := user.NewExperimenter(user.ExperimenterParams{
		Log:   logger.New(),
		ID:    "exp",
		Clock: clock.NewMock(),
	})

	t.Cleanup(experimenter.Disconnect)

	expConn := test.NewFakeConn()
	require.NoError(t, experimenter.SetConnection(expConn))

	owner.AddSubscriber(experimenter)

	proposals := expConn.SentOfType(message.TypeConnectionProposal)
	require.Len(t, proposals, 1)

	var proposal message.ConnectionProposal
	require.NoError(t, json.Unmarshal(proposals[0].Data, &proposal))

	// Experimenters get the raw id.
	assert.Equal(t, "owner", proposal.ParticipantSummary)

	// Participants get the sanitized summary.
	peer, peerConn := newParticipant(t, "peer")

	owner.AddSubscriber(peer)

	peerProposals := peerConn.SentOfType(message.TypeConnectionProposal)
	require.Len(t, peerProposals, 1)

	var peerProposal message.ConnectionProposal
	require.NoError(t, json.Unmarshal(peerProposals[0].Data, &peerProposal))

	summary, ok := peerProposal.ParticipantSummary.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Subject owner", summary["name"])
}

func TestSendDropsWhenNotConnected(t *testing.T) {
	p := newUnboundParticipant(t, "p1")

	conn := test.NewFakeConn()
	conn.SetState(connection.StateConnecting)

	require.NoError(t, p.SetConnection(conn))

	p.Send(message.NewSuccess(message.TypeChat, "ok"))

	assert.Empty(t, conn.Sent())
}

func TestDisconnectIdempotent(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	fired := 0

	p.Events().On(user.EventDisconnected, func(interface{}) {
		fired++
	})

	p.Disconnect()
	p.Disconnect()

	assert.Equal(t, 1, fired)
	assert.True(t, p.Disconnected())
	assert.Equal(t, 1, conn.Closes())
}

func TestDisconnectOnConnectionFailure(t *testing.T) {
	p, conn := newParticipant(t, "p1")

	conn.SetState(connection.StateFailed)

	assert.True(t, p.Disconnected())
}

func TestPingHandler(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1000))

	p := user.NewParticipant(user.ParticipantParams{
		Log:   logger.New(),
		ID:    "p1",
		Clock: mock,
	})

	t.Cleanup(p.Disconnect)

	conn := test.NewFakeConn()
	require.NoError(t, p.SetConnection(conn))

	p.HandleMessage(message.New(message.TypePing, message.Ping{Sent: 700}))

	pongs := conn.SentOfType(message.TypePong)
	require.Len(t, pongs, 1)

	var pong message.Pong
	require.NoError(t, json.Unmarshal(pongs[0].Data, &pong))
	assert.EqualValues(t, 1000, pong.HandledTime)
	assert.EqualValues(t, 700, pong.PingData.Sent)
}

func TestGetCurrentPing(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1000))

	p := user.NewParticipant(user.ParticipantParams{
		Log:   logger.New(),
		ID:    "p1",
		Clock: mock,
	})

	t.Cleanup(p.Disconnect)

	assert.Zero(t, p.GetCurrentPing())

	p.StartPinging(10*time.Millisecond, 100*time.Millisecond)
	defer p.StopPinging()

	// Idempotent while running.
	p.StartPinging(10*time.Millisecond, 100*time.Millisecond)

	for _, sent := range []int64{990, 980, 970} {
		p.HandleMessage(message.New(message.TypePong, message.Pong{
			PingData: message.Ping{Sent: sent},
		}))
	}

	assert.EqualValues(t, 20, p.GetCurrentPing())
}

func TestPingRingBounded(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1000))

	p := user.NewParticipant(user.ParticipantParams{
		Log:   logger.New(),
		ID:    "p1",
		Clock: mock,
	})

	t.Cleanup(p.Disconnect)

	// window == period keeps exactly one sample.
	p.StartPinging(10*time.Millisecond, 10*time.Millisecond)
	defer p.StopPinging()

	p.HandleMessage(message.New(message.TypePong, message.Pong{
		PingData: message.Ping{Sent: 900},
	}))
	p.HandleMessage(message.New(message.TypePong, message.Pong{
		PingData: message.Ping{Sent: 990},
	}))

	assert.EqualValues(t, 10, p.GetCurrentPing())
}
