// Package experiment wires users into a session: the subscription mesh
// between participants and experimenters, the privileged control
// endpoints, and the session summary bookkeeping.
package experiment

import (
	"sync"

	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/experiment-hub/experiment-hub/server/track"
	"github.com/experiment-hub/experiment-hub/server/user"
	"github.com/juju/errors"
)

type Params struct {
	Log logger.Logger
	ID  identifiers.ExperimentID

	SessionID identifiers.SessionID
	Title     string

	Registry *filter.Registry
	Store    sessionstore.Store

	// Clock defaults to the real clock.
	Clock clock.Clock

	// GroupFilterBasePort is the first UDP port handed to group filter
	// aggregators. Pairs are allocated upward from it.
	GroupFilterBasePort int
}

// Experiment aggregates the users of one session. It owns the
// subscription mesh: every participant's stream reaches every other
// participant and every experimenter.
type Experiment struct {
	log    logger.Logger
	id     identifiers.ExperimentID
	params Params
	clock  clock.Clock

	mu            sync.Mutex
	participants  map[identifiers.UserID]*user.Participant
	experimenters map[identifiers.UserID]*user.Experimenter
	banned        map[identifiers.UserID]struct{}
	running       bool
	startedAt     int64
	nextPort      int
}

func New(params Params) *Experiment {
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	return &Experiment{
		log: params.Log.WithNamespaceAppended("experiment").WithCtx(logger.Ctx{
			"experiment_id": params.ID,
		}),
		id:            params.ID,
		params:        params,
		clock:         params.Clock,
		participants:  map[identifiers.UserID]*user.Participant{},
		experimenters: map[identifiers.UserID]*user.Experimenter{},
		banned:        map[identifiers.UserID]struct{}{},
		nextPort:      params.GroupFilterBasePort,
	}
}

func (e *Experiment) ID() identifiers.ExperimentID {
	return e.id
}

func (e *Experiment) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// AddParticipant admits a participant: wires the mesh in both
// directions, registers its endpoints and removes it again on
// disconnect. Banned ids are rejected.
func (e *Experiment) AddParticipant(p *user.Participant) error {
	e.mu.Lock()

	if _, ok := e.banned[p.ID()]; ok {
		e.mu.Unlock()

		return errors.Trace(message.NewDomainError(
			400, message.ErrTypeBannedParticipant,
			"This participant is banned from the experiment.",
		))
	}

	if _, ok := e.participants[p.ID()]; ok {
		e.mu.Unlock()

		return errors.Trace(message.NewDomainError(
			400, message.ErrTypeDuplicateID,
			"A participant with this id is already connected.",
		))
	}

	e.participants[p.ID()] = p

	peers := make([]*user.Participant, 0, len(e.participants)-1)
	for id, q := range e.participants {
		if id != p.ID() {
			peers = append(peers, q)
		}
	}

	experimenters := make([]*user.Experimenter, 0, len(e.experimenters))
	for _, exp := range e.experimenters {
		experimenters = append(experimenters, exp)
	}

	running := e.running

	e.mu.Unlock()

	p.OnMessage(message.TypeChat, e.makeChatHandler(p.Core))

	p.Events().Once(user.EventDisconnected, func(interface{}) {
		e.removeParticipant(p.ID())
	})

	for _, q := range peers {
		p.AddSubscriber(q)
		q.AddSubscriber(p)
	}

	for _, exp := range experimenters {
		p.AddSubscriber(exp)
	}

	if running {
		p.Send(message.New(message.TypeExperimentStarted, nil))
	}

	e.log.Info("Participant admitted", logger.Ctx{
		"user_id": p.ID(),
	})

	e.syncSession()

	return nil
}

func (e *Experiment) removeParticipant(id identifiers.UserID) {
	e.mu.Lock()
	_, ok := e.participants[id]
	if ok {
		delete(e.participants, id)
	}
	e.mu.Unlock()

	if ok {
		e.log.Info("Participant removed", logger.Ctx{
			"user_id": id,
		})

		e.syncSession()
	}
}

// AddExperimenter admits an experimenter: subscribes it to every
// participant's stream and registers the privileged control endpoints.
func (e *Experiment) AddExperimenter(exp *user.Experimenter) error {
	e.mu.Lock()

	if _, ok := e.experimenters[exp.ID()]; ok {
		e.mu.Unlock()

		return errors.Trace(message.NewDomainError(
			400, message.ErrTypeDuplicateID,
			"An experimenter with this id is already connected.",
		))
	}

	e.experimenters[exp.ID()] = exp

	participants := make([]*user.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		participants = append(participants, p)
	}

	e.mu.Unlock()

	e.registerExperimenterEndpoints(exp)

	exp.Events().Once(user.EventDisconnected, func(interface{}) {
		e.mu.Lock()
		delete(e.experimenters, exp.ID())
		e.mu.Unlock()
	})

	for _, p := range participants {
		p.AddSubscriber(exp)
	}

	e.log.Info("Experimenter admitted", logger.Ctx{
		"user_id": exp.ID(),
	})

	return nil
}

func (e *Experiment) participant(id identifiers.UserID) (*user.Participant, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.participants[id]
	if !ok {
		return nil, errors.Trace(message.NewDomainError(
			404, message.ErrTypeUnknownParticipant,
			"No participant with the given id is connected.",
		))
	}

	return p, nil
}

func (e *Experiment) participantList() []*user.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()

	ret := make([]*user.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		ret = append(ret, p)
	}

	return ret
}

// Start marks the experiment running, starts recording every
// participant and notifies everyone.
func (e *Experiment) Start() error {
	e.mu.Lock()

	if e.running {
		e.mu.Unlock()

		return nil
	}

	e.running = true
	e.startedAt = e.clock.Now().UnixMilli()

	e.mu.Unlock()

	for _, p := range e.participantList() {
		if err := p.StartRecording(); err != nil {
			e.log.Error("Start recording", errors.Trace(err), logger.Ctx{
				"user_id": p.ID(),
			})
		}
	}

	e.Broadcast(message.New(message.TypeExperimentStarted, nil))

	e.log.Info("Experiment started", nil)

	e.syncSession()

	return nil
}

// End stops the experiment: recording off, everyone notified.
func (e *Experiment) End() error {
	e.mu.Lock()

	if !e.running {
		e.mu.Unlock()

		return nil
	}

	e.running = false

	e.mu.Unlock()

	for _, p := range e.participantList() {
		if err := p.StopRecording(); err != nil {
			e.log.Error("Stop recording", errors.Trace(err), logger.Ctx{
				"user_id": p.ID(),
			})
		}
	}

	e.Broadcast(message.New(message.TypeExperimentEnded, nil))

	e.log.Info("Experiment ended", nil)

	e.syncSession()

	return nil
}

// Broadcast sends a message to every participant and experimenter.
func (e *Experiment) Broadcast(msg message.Message) {
	e.mu.Lock()

	users := make([]user.User, 0, len(e.participants)+len(e.experimenters))
	for _, p := range e.participants {
		users = append(users, p)
	}

	for _, exp := range e.experimenters {
		users = append(users, exp)
	}

	e.mu.Unlock()

	for _, u := range users {
		u.Send(msg)
	}
}

// Kick disconnects a participant with a notification. Ban additionally
// blocks readmission.
func (e *Experiment) Kick(id identifiers.UserID, reason string, ban bool) error {
	p, err := e.participant(id)
	if err != nil {
		return errors.Trace(err)
	}

	notification := message.TypeKickNotification

	if ban {
		notification = message.TypeBanNotification

		p.SetBanned(true)

		e.mu.Lock()
		e.banned[id] = struct{}{}
		e.mu.Unlock()
	}

	p.Send(message.New(notification, message.KickRequest{
		ParticipantID: id,
		Reason:        reason,
	}))

	p.Disconnect()

	return nil
}

// allocatePortPairs hands out UDP port pairs for group filter
// aggregators.
func (e *Experiment) allocatePortPairs(n int) []track.PortPair {
	e.mu.Lock()
	defer e.mu.Unlock()

	ret := make([]track.PortPair, 0, n)

	for i := 0; i < n; i++ {
		ret = append(ret, track.PortPair{
			Data:   e.nextPort,
			Result: e.nextPort + 1,
		})

		e.nextPort += 2
	}

	return ret
}

// syncSession writes the current session summary to the store.
func (e *Experiment) syncSession() {
	if e.params.Store == nil {
		return
	}

	e.mu.Lock()

	session := sessionstore.Session{
		ID:           e.params.SessionID,
		ExperimentID: e.id,
		Title:        e.params.Title,
		StartedAt:    e.startedAt,
	}

	participants := make([]*user.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		participants = append(participants, p)
	}

	e.mu.Unlock()

	for _, p := range participants {
		_, audioMuted := p.Muted()

		session.Participants = append(session.Participants, sessionstore.ParticipantSummary{
			ID:     p.ID(),
			PingMs: p.GetCurrentPing(),
			Muted:  audioMuted,
		})
	}

	if err := e.params.Store.Set(session); err != nil {
		e.log.Error("Sync session", errors.Trace(err), nil)
	}
}
