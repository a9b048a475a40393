package hub

import (
	"testing"

	"github.com/experiment-hub/experiment-hub/server/filter"
	"github.com/experiment-hub/experiment-hub/server/logger"
	"github.com/experiment-hub/experiment-hub/server/sessionstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	registry, err := filter.NewDefaultRegistry()
	require.NoError(t, err)

	store := sessionstore.NewMemory()
	t.Cleanup(func() { store.Close() })

	return NewManager(ManagerParams{
		Log:                 logger.New(),
		Registry:            registry,
		Store:               store,
		GroupFilterBasePort: 44000,
	})
}

func TestManagerEnterExit(t *testing.T) {
	m := newTestManager(t)

	exp := m.Enter("exp-1")
	require.NotNil(t, exp)

	// A second entry joins the same experiment.
	assert.Same(t, exp, m.Enter("exp-1"))

	m.Exit("exp-1")

	got, ok := m.Experiment("exp-1")
	require.True(t, ok)
	assert.Same(t, exp, got)

	// The last exit removes it.
	m.Exit("exp-1")

	_, ok = m.Experiment("exp-1")
	assert.False(t, ok)
}

func TestManagerExitUnknown(t *testing.T) {
	m := newTestManager(t)

	m.Exit("nope")

	_, ok := m.Experiment("nope")
	assert.False(t, ok)
}

func TestManagerSeparateExperiments(t *testing.T) {
	m := newTestManager(t)

	exp1 := m.Enter("exp-1")
	exp2 := m.Enter("exp-2")

	assert.NotSame(t, exp1, exp2)

	m.Exit("exp-1")
	m.Exit("exp-2")
}
