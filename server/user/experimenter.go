package user

import (
	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/connection"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
)

type ExperimenterParams struct {
	Log   logger.Logger
	ID    identifiers.UserID
	Clock clock.Clock
}

// Experimenter is the user running an experiment. It receives raw
// participant ids in proposals and carries the privileged control
// endpoints, which the experiment layer registers on it.
type Experimenter struct {
	*Core
}

func NewExperimenter(params ExperimenterParams) *Experimenter {
	e := &Experimenter{}

	e.Core = NewCore(CoreParams{
		Log:           params.Log,
		ID:            params.ID,
		Clock:         params.Clock,
		Experimenter:  true,
		OnStateChange: e.handleStateChange,
	})

	return e
}

func (e *Experimenter) handleStateChange(state connection.State) {
	e.log.Debug("Experimenter connection state", logger.Ctx{
		"state": state,
	})

	if state == connection.StateConnected {
		e.log.Info("Experimenter connected", nil)
	}
}
