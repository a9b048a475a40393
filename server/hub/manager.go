package hub

import (
	"sync"

	"github.com/experiment-hub/experiment-hub/server/clock"
	"github.com/experiment-hub/experiment-hub/server/experiment"
	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/experiment-hub/experiment-hub/server/uuid"
)

// groupFilterPortBlock is the number of UDP ports reserved per
// experiment for group filter aggregators.
const groupFilterPortBlock = 1000

type ManagerParams struct {
	Log      logger.Logger
	Registry *filter.Registry
	Store    sessionstore.Store

	// Clock defaults to the real clock.
	Clock clock.Clock

	GroupFilterBasePort int
}

// Manager tracks live experiments by id, with reference counting per
// connected user. An experiment is created on first entry and dropped
// when its last user exits; its session summary stays in the store.
type Manager struct {
	log    logger.Logger
	params ManagerParams

	mu          sync.Mutex
	experiments map[identifiers.ExperimentID]*managedExperiment
	nextPort    int
}

type managedExperiment struct {
	experiment *experiment.Experiment
	users      int
}

func NewManager(params ManagerParams) *Manager {
	if params.Clock == nil {
		params.Clock = clock.New()
	}

	return &Manager{
		log:         params.Log.WithNamespaceAppended("manager"),
		params:      params,
		experiments: map[identifiers.ExperimentID]*managedExperiment{},
		nextPort:    params.GroupFilterBasePort,
	}
}

// Enter returns the experiment with the given id, creating it on first
// entry. Every Enter must be paired with one Exit.
func (m *Manager) Enter(id identifiers.ExperimentID) *experiment.Experiment {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.experiments[id]
	if !ok {
		// Each experiment allocates group filter ports from its own
		// block, so two experiments never hand out the same pair.
		basePort := m.nextPort
		m.nextPort += groupFilterPortBlock

		managed = &managedExperiment{
			experiment: experiment.New(experiment.Params{
				Log:                 m.params.Log,
				ID:                  id,
				SessionID:           identifiers.SessionID(uuid.New()),
				Title:               string(id),
				Registry:            m.params.Registry,
				Store:               m.params.Store,
				Clock:               m.params.Clock,
				GroupFilterBasePort: basePort,
			}),
		}

		m.experiments[id] = managed

		prometheusExperimentsActive.Inc()

		m.log.Info("Experiment created", logger.Ctx{
			"experiment_id": id,
		})
	}

	managed.users++

	return managed.experiment
}

// Exit releases one user's reference. The last exit removes the
// experiment.
func (m *Manager) Exit(id identifiers.ExperimentID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.experiments[id]
	if !ok {
		return
	}

	managed.users--

	if managed.users <= 0 {
		delete(m.experiments, id)

		prometheusExperimentsActive.Dec()

		m.log.Info("Experiment removed", logger.Ctx{
			"experiment_id": id,
		})
	}
}

// Experiment looks up a live experiment without entering it.
func (m *Manager) Experiment(id identifiers.ExperimentID) (*experiment.Experiment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	managed, ok := m.experiments[id]
	if !ok {
		return nil, false
	}

	return managed.experiment, true
}
