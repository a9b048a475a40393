package sessionstore

import (
	"sync"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/juju/errors"
)

// Memory keeps sessions in process memory. The default store for single
// node deployments and tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[identifiers.SessionID]Session
}

var _ Store = &Memory{}

func NewMemory() *Memory {
	return &Memory{
		sessions: map[identifiers.SessionID]Session{},
	}
}

func (m *Memory) Set(session Session) error {
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return nil
}

func (m *Memory) Get(id identifiers.SessionID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return Session{}, errors.Trace(ErrNotFound)
	}

	return session, nil
}

func (m *Memory) Delete(id identifiers.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errors.Trace(ErrNotFound)
	}

	delete(m.sessions, id)

	return nil
}

func (m *Memory) List() ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ret := make([]Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		ret = append(ret, session)
	}

	return ret, nil
}

func (m *Memory) Close() error {
	return nil
}
