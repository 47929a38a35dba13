// realtime/controller.go
package realtime

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

var ErrNotStarted = errors.New("sync controller is not started")

const (
	DefaultBaseDelay  = time.Second
	DefaultMaxRetries = 3
	DefaultLimit      = 500
)

// Backend is what the controller needs from the document store: snapshot
// listeners plus a one-shot query for the fallback path.
type Backend interface {
	store.Listener
	ListNotes(ctx context.Context, q store.NoteQuery) ([]*domain.Note, error)
}

type Options struct {
	// BaseDelay is the first retry delay; attempt n waits BaseDelay*2^(n-1).
	BaseDelay  time.Duration
	MaxRetries int
	// Limit bounds every snapshot query.
	Limit int
	// Buffer is the capacity of each subscription channel.
	Buffer int
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	return o
}

// Controller owns the registry of live subscriptions. Subscribe only works
// between Start and Stop.
type Controller struct {
	backend Backend
	opts    Options
	log     zerolog.Logger

	mu      sync.Mutex
	started bool
	subs    map[string]*Subscription
	seq     uint64
}

// New builds a controller. A zero MaxRetries in opts means the default; use
// a negative value to disable retries.
func New(backend Backend, opts Options) *Controller {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	opts = opts.withDefaults()
	return &Controller{
		backend: backend,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "realtime").Logger(),
		subs:    make(map[string]*Subscription),
	}
}

func (c *Controller) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	c.log.Info().Dur("base_delay", c.opts.BaseDelay).Int("max_retries", c.opts.MaxRetries).Msg("Sync controller started")
}

// Stop closes every subscription and rejects new ones.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.started = false
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	c.log.Info().Int("closed", len(subs)).Msg("Sync controller stopped")
}

// Active returns the number of open subscriptions.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Subscribe attaches a listener for the owner's notes matching f. The
// subscription lives until Close, Stop, or ctx is done.
func (c *Controller) Subscribe(ctx context.Context, ownerID string, f domain.Filters) (*Subscription, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, domain.Validationf("owner id is required")
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, ErrNotStarted
	}
	c.seq++
	id := fmt.Sprintf("sub-%d", c.seq)
	sctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		id:      id,
		ownerID: ownerID,
		filters: f,
		query:   store.QueryFor(ownerID, f, c.opts.Limit),
		c:       c,
		ctx:     sctx,
		cancel:  cancel,
		out:     make(chan Snapshot, c.opts.Buffer),
		done:    make(chan struct{}),
		log:     c.log.With().Str("subscription", id).Str("owner_id", ownerID).Logger(),
	}
	s.machine = newMachine(s.log, nil)
	c.subs[id] = s
	c.mu.Unlock()

	go s.run()
	return s, nil
}

func (c *Controller) remove(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// newBackoff yields BaseDelay, 2*BaseDelay, 4*BaseDelay... without jitter,
// then backoff.Stop after MaxRetries delays.
func (c *Controller) newBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(c.opts.MaxRetries))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
