package experiment_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/experiment"
	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/experiment-hub/experiment-hub/server/test"
	"github.com/experiment-hub/experiment-hub/server/user"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	t *testing.T

	exp      *experiment.Experiment
	clock    *clock.Mock
	store    *sessionstore.Memory
	registry *filter.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	mock := clock.NewMock()
	mock.Set(time.UnixMilli(5000))

	store := sessionstore.NewMemory()
	t.Cleanup(func() { store.Close() })

	exp := experiment.New(experiment.Params{
		Log:                 logger.New(),
		ID:                  "exp-1",
		SessionID:           "session-1",
		Title:               "Pilot run",
		Registry:            registry,
		Store:               store,
		Clock:               mock,
		GroupFilterBasePort: 40000,
	})

	return &fixture{
		t:        t,
		exp:      exp,
		clock:    mock,
		store:    store,
		registry: registry,
	}
}

func (f *fixture) addParticipant(id string) (*user.Participant, *test.FakeConn) {
	f.t.Helper()

	p := user.NewParticipant(user.ParticipantParams{
		Log:     logger.New(),
		ID:      identifiers.UserID(id),
		Clock:   f.clock,
		Summary: message.ParticipantSummary{Name: "Subject " + id},
	})

	f.t.Cleanup(p.Disconnect)

	conn := test.NewFakeConn()
	require.NoError(f.t, p.SetConnection(conn))
	require.NoError(f.t, f.exp.AddParticipant(p))

	return p, conn
}

func (f *fixture) addExperimenter(id string) (*user.Experimenter, *test.FakeConn) {
	f.t.Helper()

	exp := user.NewExperimenter(user.ExperimenterParams{
		Log:   logger.New(),
		ID:    identifiers.UserID(id),
		Clock: f.clock,
	})

	f.t.Cleanup(exp.Disconnect)

	conn := test.NewFakeConn()
	require.NoError(f.t, exp.SetConnection(conn))
	require.NoError(f.t, f.exp.AddExperimenter(exp))

	return exp, conn
}

func errorPayload(t *testing.T, msg message.Message) message.Error {
	t.Helper()

	require.Equal(t, message.TypeError, msg.Type)

	var ret message.Error
	require.NoError(t, json.Unmarshal(msg.Data, &ret))

	return ret
}

func TestMeshWiring(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	_, conn2 := f.addParticipant("p2")

	// Each participant owns one sub-connection feeding the other.
	assert.Equal(t, 1, conn1.Proposals())
	assert.Equal(t, 1, conn2.Proposals())
	assert.Len(t, conn1.SentOfType(message.TypeConnectionProposal), 1)
	assert.Len(t, conn2.SentOfType(message.TypeConnectionProposal), 1)

	// The experimenter subscribes to every participant's stream.
	_, expConn := f.addExperimenter("exp")

	assert.Equal(t, 2, conn1.Proposals())
	assert.Equal(t, 2, conn2.Proposals())
	assert.Len(t, expConn.SentOfType(message.TypeConnectionProposal), 2)
}

func TestAddParticipantDuplicate(t *testing.T) {
	f := newFixture(t)

	p1, _ := f.addParticipant("p1")

	err := f.exp.AddParticipant(p1)
	require.Error(t, err)

	domainErr, ok := message.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, message.ErrTypeDuplicateID, domainErr.Type)
}

func TestParticipantRemovedOnDisconnect(t *testing.T) {
	f := newFixture(t)

	p1, _ := f.addParticipant("p1")

	p1.Disconnect()

	// The slot is free again after the disconnect.
	p1b := user.NewParticipant(user.ParticipantParams{
		Log:   logger.New(),
		ID:    "p1",
		Clock: f.clock,
	})

	t.Cleanup(p1b.Disconnect)

	require.NoError(t, p1b.SetConnection(test.NewFakeConn()))
	require.NoError(t, f.exp.AddParticipant(p1b))
}

func TestMuteEndpoint(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeMute, message.MuteRequest{
		ParticipantID: "p1",
		MuteVideo:     true,
		MuteAudio:     false,
	}))

	calls := conn1.MutedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, [2]bool{true, false}, calls[0])
	assert.Len(t, expConn.SentOfType(message.TypeSuccess), 1)
}

func TestMuteUnknownParticipant(t *testing.T) {
	f := newFixture(t)

	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeMute, message.MuteRequest{
		ParticipantID: "nope",
	}))

	sent := expConn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, 404, errMsg.Code)
	assert.Equal(t, message.ErrTypeUnknownParticipant, errMsg.Type)
}

func TestSetFiltersDuplicateID(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeSetFilters, message.SetFiltersRequest{
		ParticipantID: "p1",
		AudioFilters: []message.FilterConfig{
			{ID: "f1", Type: "delay"},
			{ID: "f1", Type: "delay"},
		},
	}))

	sent := expConn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)
	assert.Equal(t, message.ErrTypeDuplicateID, errorPayload(t, sent[0]).Type)

	// Nothing was applied.
	assert.Empty(t, conn1.AudioFilterCalls())
	assert.Empty(t, conn1.VideoFilterCalls())
}

func TestSetFiltersAllParticipants(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	_, conn2 := f.addParticipant("p2")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeSetFilters, message.SetFiltersRequest{
		ParticipantID: "all",
		VideoFilters: []message.FilterConfig{
			{Type: "rotation"},
		},
	}))

	assert.Len(t, conn1.VideoFilterCalls(), 1)
	assert.Len(t, conn2.VideoFilterCalls(), 1)
	assert.Len(t, expConn.SentOfType(message.TypeSuccess), 1)
}

func TestSetGroupFiltersAllocatesPorts(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeSetGroupFilters, message.SetFiltersRequest{
		ParticipantID: "p1",
		AudioFilters: []message.FilterConfig{
			{Type: "template-group", GroupFilter: true},
		},
		VideoFilters: []message.FilterConfig{
			{Type: "template-group", GroupFilter: true},
		},
	}))

	require.Len(t, expConn.SentOfType(message.TypeSuccess), 1)

	// Port pairs are allocated upward from the base port, never reused.
	calls := conn1.GroupPortCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, 40000, calls[0][0].Data)
	assert.Equal(t, 40001, calls[0][0].Result)
	assert.Equal(t, 40002, calls[1][0].Data)
	assert.Equal(t, 40003, calls[1][0].Result)
}

func TestGetFiltersDataUnknownChannel(t *testing.T) {
	f := newFixture(t)

	f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeGetFiltersData, message.GetFiltersDataRequest{
		ParticipantID: "p1",
		FilterChannel: "sideband",
	}))

	sent := expConn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)

	errMsg := errorPayload(t, sent[0])
	assert.Equal(t, 404, errMsg.Code)
	assert.Equal(t, message.ErrTypeInvalidRequest, errMsg.Type)
}

func TestGetFiltersData(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	conn1.FiltersData = []message.FilterData{
		{ID: "f1", Name: "delay"},
	}

	exp.HandleMessage(message.New(message.TypeGetFiltersData, message.GetFiltersDataRequest{
		ParticipantID: "p1",
		FilterID:      "all",
		FilterName:    "delay",
		FilterChannel: message.ChannelBoth,
	}))

	sent := expConn.SentOfType(message.TypeFiltersData)
	require.Len(t, sent, 1)

	var result map[string]message.FiltersData
	require.NoError(t, json.Unmarshal(sent[0].Data, &result))
	require.Contains(t, result, "p1")
	assert.Len(t, result["p1"].Audio, 1)
	assert.Len(t, result["p1"].Video, 1)
}

func TestGetFiltersConfig(t *testing.T) {
	f := newFixture(t)

	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeGetFiltersConfig, nil))

	sent := expConn.SentOfType(message.TypeFiltersConfig)
	require.Len(t, sent, 1)

	var configs []message.FilterConfig
	require.NoError(t, json.Unmarshal(sent[0].Data, &configs))
	require.Len(t, configs, len(f.registry.Catalog(false)))

	for _, config := range configs {
		assert.NotEmpty(t, config.Type)
		assert.NotEmpty(t, config.Channel)
	}
}

func TestKickParticipant(t *testing.T) {
	f := newFixture(t)

	p1, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeKickParticipant, message.KickRequest{
		ParticipantID: "p1",
		Reason:        "session over",
	}))

	assert.Len(t, expConn.SentOfType(message.TypeSuccess), 1)

	notifications := conn1.SentOfType(message.TypeKickNotification)
	require.Len(t, notifications, 1)

	var kick message.KickRequest
	require.NoError(t, json.Unmarshal(notifications[0].Data, &kick))
	assert.Equal(t, "session over", kick.Reason)

	assert.True(t, p1.Disconnected())
	assert.False(t, p1.Banned())
}

func TestBanBlocksReadmission(t *testing.T) {
	f := newFixture(t)

	p1, conn1 := f.addParticipant("p1")
	exp, _ := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeBanParticipant, message.KickRequest{
		ParticipantID: "p1",
		Reason:        "disruptive",
	}))

	assert.Len(t, conn1.SentOfType(message.TypeBanNotification), 1)
	assert.True(t, p1.Disconnected())
	assert.True(t, p1.Banned())

	p1b := user.NewParticipant(user.ParticipantParams{
		Log:   logger.New(),
		ID:    "p1",
		Clock: f.clock,
	})

	t.Cleanup(p1b.Disconnect)

	require.NoError(t, p1b.SetConnection(test.NewFakeConn()))

	err := f.exp.AddParticipant(p1b)
	require.Error(t, err)

	domainErr, ok := message.AsDomainError(err)
	require.True(t, ok)
	assert.Equal(t, message.ErrTypeBannedParticipant, domainErr.Type)
}

func TestStartAndEnd(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeExperimentStarted, nil))

	assert.True(t, f.exp.Running())
	assert.Equal(t, 1, conn1.Recordings())
	assert.Len(t, conn1.SentOfType(message.TypeExperimentStarted), 1)
	assert.Len(t, expConn.SentOfType(message.TypeSuccess), 1)

	exp.HandleMessage(message.New(message.TypeExperimentEnded, nil))

	assert.False(t, f.exp.Running())
	assert.Len(t, conn1.SentOfType(message.TypeExperimentEnded), 1)
}

func TestLateJoinerSeesRunningExperiment(t *testing.T) {
	f := newFixture(t)

	f.addParticipant("p1")

	require.NoError(t, f.exp.Start())

	_, conn2 := f.addParticipant("p2")

	assert.Len(t, conn2.SentOfType(message.TypeExperimentStarted), 1)
}

func TestChatToParticipant(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	exp, _ := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeChat, message.ChatMessage{
		Message: "please look at the screen",
		Target:  "p1",
	}))

	sent := conn1.SentOfType(message.TypeChat)
	require.Len(t, sent, 1)

	var chat message.ChatMessage
	require.NoError(t, json.Unmarshal(sent[0].Data, &chat))
	assert.EqualValues(t, "exp", chat.Author)
	assert.EqualValues(t, 5000, chat.Time)
}

func TestChatBroadcast(t *testing.T) {
	f := newFixture(t)

	_, conn1 := f.addParticipant("p1")
	_, conn2 := f.addParticipant("p2")
	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeChat, message.ChatMessage{
		Message: "hello everyone",
		Target:  "all",
	}))

	assert.Len(t, conn1.SentOfType(message.TypeChat), 1)
	assert.Len(t, conn2.SentOfType(message.TypeChat), 1)
	assert.Len(t, expConn.SentOfType(message.TypeChat), 1)
}

func TestChatUnknownTarget(t *testing.T) {
	f := newFixture(t)

	exp, expConn := f.addExperimenter("exp")

	exp.HandleMessage(message.New(message.TypeChat, message.ChatMessage{
		Message: "anyone there",
		Target:  "ghost",
	}))

	sent := expConn.SentOfType(message.TypeError)
	require.Len(t, sent, 1)
	assert.Equal(t, message.ErrTypeUnknownParticipant, errorPayload(t, sent[0]).Type)
}

func TestSessionSync(t *testing.T) {
	f := newFixture(t)

	f.addParticipant("p1")

	session, err := f.store.Get("session-1")
	require.NoError(t, err)
	assert.EqualValues(t, "exp-1", session.ExperimentID)
	assert.Equal(t, "Pilot run", session.Title)
	require.Len(t, session.Participants, 1)
	assert.EqualValues(t, "p1", session.Participants[0].ID)

	require.NoError(t, f.exp.Start())

	session, err = f.store.Get("session-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5000, session.StartedAt)
}
