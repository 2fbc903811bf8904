package jobs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState signals an operation that the job's current lifecycle state
// does not allow, e.g. cancelling a job that already finished.
var ErrInvalidState = errors.New("job state does not allow this operation")

// ValidationError reports a rejected job request. InvalidFields carries the
// requested field names that no worker for the site can extract.
type ValidationError struct {
	Message       string
	InvalidFields []string
}

func (e *ValidationError) Error() string {
	if len(e.InvalidFields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.InvalidFields, ", "))
}
