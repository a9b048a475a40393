package multierr

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// MultiErr collects errors from multi-step teardown sequences.
type MultiErr struct {
	first error
	all   []error
}

func New() *MultiErr {
	return &MultiErr{}
}

// Add records err. Nil errors are ignored.
func (m *MultiErr) Add(err error) {
	if err == nil {
		return
	}

	if m.first == nil {
		m.first = err
	}

	m.all = append(m.all, err)
}

// Err returns nil when no errors were recorded, the error itself when
// exactly one was, and a combined error listing all stack traces
// otherwise.
func (m *MultiErr) Err() error {
	if len(m.all) <= 1 {
		return m.first
	}

	var sb strings.Builder

	for i, err := range m.all {
		if i > 0 {
			sb.WriteString("\n")
		}

		sb.WriteString(fmt.Sprintf("%d. ", i+1))
		sb.WriteString(errors.ErrorStack(err))
	}

	return errors.Errorf("multiple errors:\n%s", sb.String())
}

// Is unwraps juju annotations before comparing against target.
func Is(err, target error) bool {
	return stderrors.Is(errors.Cause(err), target)
}
