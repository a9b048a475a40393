package uuid_test

import (
	"testing"

	"github.com/experiment-hub/experiment-hub/server/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	seen := map[string]struct{}{}

	for i := 0; i < 1000; i++ {
		id := uuid.New()

		assert.NotEmpty(t, id)
		assert.LessOrEqual(t, len(id), 22)

		_, ok := seen[id]
		assert.False(t, ok, "duplicate id: %s", id)

		seen[id] = struct{}{}
	}
}
