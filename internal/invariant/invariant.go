// Package invariant holds the single assertion helper the submitter uses for
// states the spec guarantees are unreachable (a missing queue for a known
// actor, a double-emplace of a sequence number). These are not recoverable
// errors: reaching them means a caller violated the component's contract, so
// we fail loudly rather than return an error nobody checks.
package invariant

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Check panics (after logging) if cond is false. format/args follow
// fmt.Sprintf conventions.
func Check(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	err := errors.Errorf(format, args...)
	log.WithError(err).Error("invariant violation")
	panic(err)
}
