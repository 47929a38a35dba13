// mirror/saga.go
package mirror

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
)

// Step is one write of a multi-store operation. Undo reverses a completed
// Do and may be nil.
type Step struct {
	Name     string
	Do       func(ctx context.Context) error
	Undo     func(ctx context.Context) error
	Optional bool
}

// StepError reports the step that aborted a saga.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// UserMessage is the text to show when the failure needs user action.
func (e *StepError) UserMessage() string {
	if errors.Is(e.Err, domain.ErrStorageExhausted) {
		return domain.StorageExhaustedMessage
	}
	return ""
}

// Saga runs steps in order. A failed required step undoes the completed
// steps in reverse order. A failed optional step is logged and skipped,
// unless local storage is exhausted, which always aborts.
type Saga struct {
	log   zerolog.Logger
	steps []Step
}

func NewSaga(log zerolog.Logger) *Saga {
	return &Saga{log: log}
}

func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

func (s *Saga) Run(ctx context.Context) error {
	done := make([]Step, 0, len(s.steps))
	for _, st := range s.steps {
		err := st.Do(ctx)
		if err == nil {
			done = append(done, st)
			continue
		}
		if st.Optional && !errors.Is(err, domain.ErrStorageExhausted) {
			s.log.Warn().Err(err).Str("step", st.Name).Msg("Optional step failed")
			continue
		}
		s.compensate(ctx, done)
		return &StepError{Step: st.Name, Err: err}
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, done []Step) {
	// Undo must run even when the caller's context is what failed the step.
	ctx = context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.Undo == nil {
			continue
		}
		if err := st.Undo(ctx); err != nil {
			s.log.Error().Err(err).Str("step", st.Name).Msg("Compensation failed")
		}
	}
}
