package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrMaxIterations             = errors.New("exceeded maximum iterations")
	ErrThreadRequired            = errors.New("thread id required")
	ErrCheckpointVersionMismatch = errors.New("checkpoint version mismatch")
)

// failure is implemented by every error that ends a run at a known step.
type failure interface {
	error
	failedStep() Step
}

// StepError is returned when a step's handler fails.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string    { return fmt.Sprintf("step %s: %v", e.Step, e.Err) }
func (e *StepError) Unwrap() error    { return e.Err }
func (e *StepError) failedStep() Step { return e.Step }

// PanicError is returned when a step's handler panics. Stack is captured
// at the recover site.
type PanicError struct {
	Step  Step
	Value any
	Stack string
}

func (e *PanicError) Error() string    { return fmt.Sprintf("step %s panicked: %v", e.Step, e.Value) }
func (e *PanicError) failedStep() Step { return e.Step }

// CheckpointError is returned when state could not be persisted or
// restored. Op is one of marshal, save, load or decode. A run never
// continues past one.
type CheckpointError struct {
	Step Step
	Op   string
	Err  error
}

func (e *CheckpointError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("checkpoint %s after %s: %v", e.Op, e.Step, e.Err)
}
func (e *CheckpointError) Unwrap() error    { return e.Err }
func (e *CheckpointError) failedStep() Step { return e.Step }

// MaxIterationsError is returned when the iteration guard trips. LastStep
// is the step that would have run next.
type MaxIterationsError struct {
	Max      int
	LastStep Step
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("%v (%d) before %s", ErrMaxIterations, e.Max, e.LastStep)
}
func (e *MaxIterationsError) Unwrap() error    { return ErrMaxIterations }
func (e *MaxIterationsError) failedStep() Step { return e.LastStep }

// lastStep reports where a run error happened, or End when unknown.
// A panic wins over any wrapper around it.
func lastStep(err error) Step {
	var p *PanicError
	if errors.As(err, &p) {
		return p.Step
	}
	var f failure
	if errors.As(err, &f) && f.failedStep() != "" {
		return f.failedStep()
	}
	return End
}
