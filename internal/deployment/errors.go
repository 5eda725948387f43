package deployment

import (
	"errors"
	"fmt"
)

// ErrCancelled is wrapped into the deployment error when the run context is
// done before all stages ran.
var ErrCancelled = errors.New("deployment cancelled")

// ProcessorError is the failure of a single processor.
type ProcessorError struct {
	Processor string
	Err       error
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("processor %s failed: %v", e.Processor, e.Err)
}

func (e *ProcessorError) Unwrap() error {
	return e.Err
}
