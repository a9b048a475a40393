package hub

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/experiment-hub/experiment-hub/server/identifiers"
	"github.com/experiment-hub/experiment-hub/server/media"
	"github.com/juju/errors"
)

// newRecordingSink opens one file per recorded track under
// dir/<experiment>/. The filename carries the user, the track kind and
// a millisecond timestamp so repeated recordings never clobber each
// other.
func newRecordingSink(
	dir string,
	experimentID identifiers.ExperimentID,
	userID identifiers.UserID,
) func(kind media.Kind) (io.WriteCloser, error) {
	return func(kind media.Kind) (io.WriteCloser, error) {
		target := filepath.Join(dir, string(experimentID))

		if err := os.MkdirAll(target, 0o755); err != nil {
			return nil, errors.Annotatef(err, "create recording dir: %s", target)
		}

		name := fmt.Sprintf("%s-%s-%d.frames", userID, kind, time.Now().UnixMilli())

		f, err := os.Create(filepath.Join(target, name))

		return f, errors.Annotatef(err, "create recording file: %s", name)
	}
}
