// realtime/state.go
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

type State string

const (
	StateConnecting State = "connecting"
	StateLive       State = "live"
	StateRetrying   State = "retrying"
	StateFallback   State = "fallback"
	StateClosed     State = "closed"
)

const (
	eventAttached  = "attached"
	eventTransient = "transient_error"
	eventExhausted = "retries_exhausted"
	eventPermanent = "permanent_error"
	eventClose     = "close"
)

// machine serializes state transitions of one subscription.
type machine struct {
	mu  sync.Mutex
	fsm *fsm.FSM
}

func newMachine(log zerolog.Logger, onEnter func(State)) *machine {
	m := &machine{}
	m.fsm = fsm.NewFSM(
		string(StateConnecting),
		fsm.Events{
			{Name: eventAttached, Src: []string{string(StateConnecting), string(StateRetrying)}, Dst: string(StateLive)},
			{Name: eventTransient, Src: []string{string(StateConnecting), string(StateLive), string(StateRetrying)}, Dst: string(StateRetrying)},
			{Name: eventExhausted, Src: []string{string(StateRetrying)}, Dst: string(StateFallback)},
			{Name: eventPermanent, Src: []string{string(StateConnecting), string(StateLive), string(StateRetrying)}, Dst: string(StateFallback)},
			{Name: eventClose, Src: []string{string(StateConnecting), string(StateLive), string(StateRetrying), string(StateFallback)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("Subscription state changed")
				if onEnter != nil {
					onEnter(State(e.Dst))
				}
			},
		},
	)
	return m
}

// fire reports whether the transition happened. Self transitions, such as a
// second consecutive transient error, count as taken.
func (m *machine) fire(event string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.fsm.Event(context.Background(), event)
	if err == nil {
		return true
	}
	var noTransition fsm.NoTransitionError
	return errors.As(err, &noTransition)
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}
