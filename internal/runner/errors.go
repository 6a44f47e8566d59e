package runner

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when Run is called while another run is
// still executing.
var ErrRunInProgress = errors.New("runner: a simulation is already running")

// InvalidInputError rejects inputs before any network activity.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *InvalidInputError) Class() string { return "invalid_input" }

// ResponseShapeError means the service answered but the reply was not the
// expected structure or carried neither soil nor growth data.
type ResponseShapeError struct {
	Reason string
}

func (e *ResponseShapeError) Error() string {
	return "unexpected simulation response: " + e.Reason
}

func (e *ResponseShapeError) Class() string { return "response_shape" }
