// realtime/subscription.go
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Snapshot is the full filtered result set at one point in time. Err is set
// only on a fallback snapshot whose one-shot fetch failed. Truncated means
// the query hit its limit, so older notes may be missing.
type Snapshot struct {
	Notes     []*domain.Note `json:"notes"`
	Source    Source         `json:"source"`
	At        time.Time      `json:"at"`
	Truncated bool           `json:"truncated"`
	Err       error          `json:"-"`
}

type Subscription struct {
	id      string
	ownerID string
	filters domain.Filters
	query   store.NoteQuery
	c       *Controller
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Snapshot
	done   chan struct{}
	once   sync.Once

	machine *machine

	mu      sync.Mutex
	current *attachment
}

// attachment is one underlying store listener.
type attachment struct {
	snaps  chan []*domain.Note
	errs   chan error
	done   chan struct{}
	detach func()
}

func (s *Subscription) ID() string { return s.id }

func (s *Subscription) State() State { return s.machine.current() }

// C yields snapshots in the order the backend emitted them. It is closed
// once the subscription is closed.
func (s *Subscription) C() <-chan Snapshot { return s.out }

// Done is closed after the subscription has fully shut down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the listener and cancels any pending retry. Calling it
// again is a no-op.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

func (s *Subscription) run() {
	defer s.finish()

	bo := s.c.newBackoff()
	attempt := 0
	for {
		a, err := s.attach()
		if err == nil {
			bo.Reset()
			attempt = 0
			s.machine.fire(eventAttached)
			err = s.pump(a)
			s.detachCurrent()
			if err == nil {
				return
			}
		}
		if s.ctx.Err() != nil {
			return
		}

		if domain.IsPermanent(err) {
			s.log.Error().Err(err).Msg("Snapshot listener failed permanently, falling back to a one-shot fetch")
			s.machine.fire(eventPermanent)
			s.fallback()
			return
		}

		s.machine.fire(eventTransient)
		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			s.log.Warn().Err(err).Int("attempts", attempt).Msg("Retry budget exhausted, falling back to a one-shot fetch")
			s.machine.fire(eventExhausted)
			s.fallback()
			return
		}
		attempt++
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Snapshot listener unavailable, retrying")
		if err := s.c.opts.Sleep(s.ctx, delay); err != nil {
			return
		}
	}
}

// attach always tears down the previous listener first, so at most one is
// attached at any time.
func (s *Subscription) attach() (*attachment, error) {
	s.detachCurrent()

	a := &attachment{
		snaps: make(chan []*domain.Note),
		errs:  make(chan error, 1),
		done:  make(chan struct{}),
	}
	detach, err := s.c.backend.Listen(s.ctx, s.query,
		func(notes []*domain.Note) {
			select {
			case a.snaps <- notes:
			case <-a.done:
			}
		},
		func(err error) {
			select {
			case a.errs <- err:
			default:
			}
		},
	)
	if err != nil {
		close(a.done)
		return nil, err
	}

	var once sync.Once
	a.detach = func() {
		once.Do(func() {
			detach()
			close(a.done)
		})
	}
	s.mu.Lock()
	s.current = a
	s.mu.Unlock()
	return a, nil
}

func (s *Subscription) detachCurrent() {
	s.mu.Lock()
	a := s.current
	s.current = nil
	s.mu.Unlock()
	if a != nil {
		a.detach()
	}
}

// pump forwards snapshots until the listener fails or the subscription is
// closed, in which case it returns nil.
func (s *Subscription) pump(a *attachment) error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case err := <-a.errs:
			return err
		case notes := <-a.snaps:
			s.deliver(s.snapshot(notes, SourceLive))
		}
	}
}

// fallback delivers one fetch of the same query, then stays passive until
// the subscription is closed.
func (s *Subscription) fallback() {
	notes, err := s.c.backend.ListNotes(s.ctx, s.query)
	if err != nil {
		s.log.Error().Err(err).Msg("Fallback fetch failed")
		s.deliver(Snapshot{Source: SourceFallback, Err: err})
	} else {
		s.deliver(s.snapshot(notes, SourceFallback))
	}
	<-s.ctx.Done()
}

func (s *Subscription) snapshot(notes []*domain.Note, src Source) Snapshot {
	return Snapshot{
		Notes:     s.filters.ApplyClientSide(notes),
		Source:    src,
		Truncated: s.query.Limit > 0 && len(notes) >= s.query.Limit,
	}
}

func (s *Subscription) deliver(snap Snapshot) {
	snap.At = time.Now()
	select {
	case s.out <- snap:
	case <-s.ctx.Done():
	}
}

func (s *Subscription) finish() {
	s.once.Do(s.cancel)
	s.detachCurrent()
	s.machine.fire(eventClose)
	s.c.remove(s.id)
	close(s.out)
	close(s.done)
}
