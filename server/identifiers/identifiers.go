package identifiers

import "sort"

// UserID identifies a connected user session (experimenter or
// participant).
type UserID string

// SubConnID identifies a single sub-connection: the per-subscriber relay
// path carrying one user's stream to one subscriber. It doubles as the
// proposal id during the subscription handshake.
type SubConnID string

// ExperimentID identifies a running experiment.
type ExperimentID string

// SessionID identifies a stored session configuration.
type SessionID string

// FilterID identifies one filter instance on one track.
type FilterID string

func (u UserID) String() string {
	return string(u)
}

func (s SubConnID) String() string {
	return string(s)
}

func (e ExperimentID) String() string {
	return string(e)
}

func (s SessionID) String() string {
	return string(s)
}

func (f FilterID) String() string {
	return string(f)
}

type UserIDs []UserID

var _ sort.Interface = UserIDs(nil)

func (u UserIDs) Len() int {
	return len(u)
}

func (u UserIDs) Less(i, j int) bool {
	return u[i] < u[j]
}

func (u UserIDs) Swap(i, j int) {
	u[i], u[j] = u[j], u[i]
}
