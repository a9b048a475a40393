package user

import (
	"sync"
	"time"

	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/message"
)

const (
	defaultPingPeriod = time.Second
	defaultPingWindow = 30 * time.Second
)

type ParticipantParams struct {
	Log   logger.Logger
	ID    identifiers.UserID
	Clock clock.Clock

	Summary message.ParticipantSummary

	MuteVideo bool
	MuteAudio bool

	PingPeriod time.Duration
	PingWindow time.Duration
}

// Participant is a subject in an experiment. Its identity payload is the
// sanitized summary, its latency is tracked from the moment it connects,
// and it can be banned.
type Participant struct {
	*Core

	pingPeriod time.Duration
	pingWindow time.Duration

	mu      sync.Mutex
	summary message.ParticipantSummary
	banned  bool
}

func NewParticipant(params ParticipantParams) *Participant {
	if params.PingPeriod <= 0 {
		params.PingPeriod = defaultPingPeriod
	}

	if params.PingWindow <= 0 {
		params.PingWindow = defaultPingWindow
	}

	p := &Participant{
		pingPeriod: params.PingPeriod,
		pingWindow: params.PingWindow,
		summary:    params.Summary,
	}

	p.Core = NewCore(CoreParams{
		Log:           params.Log,
		ID:            params.ID,
		Clock:         params.Clock,
		Experimenter:  false,
		Summary:       p.summaryPayload,
		OnStateChange: p.handleStateChange,
	})

	if params.MuteVideo || params.MuteAudio {
		p.SetMuted(params.MuteVideo, params.MuteAudio)
	}

	return p
}

func (p *Participant) summaryPayload() interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.summary
}

// UpdateSummary replaces the sanitized summary, e.g. after the
// participant is repositioned on the canvas.
func (p *Participant) UpdateSummary(summary message.ParticipantSummary) {
	p.mu.Lock()
	p.summary = summary
	p.mu.Unlock()
}

func (p *Participant) handleStateChange(state connection.State) {
	p.log.Debug("Participant connection state", logger.Ctx{
		"state": state,
	})

	if state == connection.StateConnected {
		p.log.Info("Participant connected", nil)
		p.StartPinging(p.pingPeriod, p.pingWindow)
	}
}

func (p *Participant) SetBanned(banned bool) {
	p.mu.Lock()
	p.banned = banned
	p.mu.Unlock()
}

func (p *Participant) Banned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.banned
}
