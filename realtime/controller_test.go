// realtime/controller_test.go
package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
	"github.com/ViniZap4/thesis-notes/store/memory"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newController(t *testing.T, st *memory.Store, rec *sleepRecorder) *Controller {
	t.Helper()
	c := New(st, Options{BaseDelay: time.Second, MaxRetries: 3, Sleep: rec.sleep})
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func seed(t *testing.T, st *memory.Store, n *domain.Note) {
	t.Helper()
	n.Derive()
	require.NoError(t, st.PutNote(context.Background(), n))
}

func next(t *testing.T, s *Subscription) Snapshot {
	t.Helper()
	select {
	case snap, ok := <-s.C():
		require.True(t, ok, "subscription channel closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return Snapshot{}
	}
}

func waitState(t *testing.T, s *Subscription, want State) {
	t.Helper()
	assert.Eventually(t, func() bool { return s.State() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeDeliversLiveSnapshots(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "n1", OwnerID: "u1", Title: "First", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	seed(t, st, &domain.Note{ID: "other", OwnerID: "u2", Title: "Other", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	c := newController(t, st, &sleepRecorder{})

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Equal(t, SourceLive, snap.Source)
	require.Len(t, snap.Notes, 1)
	assert.Equal(t, "n1", snap.Notes[0].ID)
	waitState(t, sub, StateLive)

	seed(t, st, &domain.Note{ID: "n2", OwnerID: "u1", Title: "Second", FolderPath: "/General", UpdatedAt: time.Unix(20, 0)})
	snap = next(t, sub)
	require.Len(t, snap.Notes, 2)
	assert.Equal(t, "n2", snap.Notes[0].ID)
}

func TestSnapshotsAtTheLimitAreMarkedTruncated(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "a", OwnerID: "u1", Title: "Alpha", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	c := New(st, Options{BaseDelay: time.Second, Limit: 2, Sleep: (&sleepRecorder{}).sleep})
	c.Start()
	t.Cleanup(c.Stop)

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	assert.False(t, next(t, sub).Truncated)

	seed(t, st, &domain.Note{ID: "b", OwnerID: "u1", Title: "Beta", FolderPath: "/General", UpdatedAt: time.Unix(11, 0)})
	snap := next(t, sub)
	assert.True(t, snap.Truncated)
	assert.Len(t, snap.Notes, 2)
}

func TestSubscribeAppliesClientSideFilters(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "a", OwnerID: "u1", Title: "Alpha", Tags: []string{"x", "y"}, FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	seed(t, st, &domain.Note{ID: "b", OwnerID: "u1", Title: "Beta", Tags: []string{"x"}, FolderPath: "/General", UpdatedAt: time.Unix(11, 0)})
	c := newController(t, st, &sleepRecorder{})

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{Tags: []string{"x", "y"}})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	require.Len(t, snap.Notes, 1)
	assert.Equal(t, "a", snap.Notes[0].ID)
}

func TestTransientFailuresRetryWithDoublingDelays(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "n1", OwnerID: "u1", Title: "First", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	st.FailListen(store.ErrUnavailable, store.ErrUnavailable, store.ErrUnavailable)
	rec := &sleepRecorder{}
	c := newController(t, st, rec)

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Equal(t, SourceLive, snap.Source)
	waitState(t, sub, StateLive)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.recorded())
}

func TestExhaustedRetriesFallBackToOneShotFetch(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "n1", OwnerID: "u1", Title: "First", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	st.FailListen(store.ErrUnavailable, store.ErrUnavailable, store.ErrUnavailable, store.ErrUnavailable)
	rec := &sleepRecorder{}
	c := newController(t, st, rec)

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Equal(t, SourceFallback, snap.Source)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Notes, 1)
	waitState(t, sub, StateFallback)
	assert.Len(t, rec.recorded(), 3)
	assert.Equal(t, 0, st.ListenerCount())
}

func TestPermanentFailureSkipsRetries(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "n1", OwnerID: "u1", Title: "First", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	st.FailListen(domain.PermanentError(errors.New("permission denied")))
	rec := &sleepRecorder{}
	c := newController(t, st, rec)

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	snap := next(t, sub)
	assert.Equal(t, SourceFallback, snap.Source)
	waitState(t, sub, StateFallback)
	assert.Empty(t, rec.recorded())
}

func TestBrokenListenerReattaches(t *testing.T) {
	st := memory.New()
	seed(t, st, &domain.Note{ID: "n1", OwnerID: "u1", Title: "First", FolderPath: "/General", UpdatedAt: time.Unix(10, 0)})
	rec := &sleepRecorder{}
	c := newController(t, st, rec)

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	defer sub.Close()

	next(t, sub)
	waitState(t, sub, StateLive)

	st.BreakListeners("u1", store.ErrUnavailable)
	snap := next(t, sub)
	assert.Equal(t, SourceLive, snap.Source)
	waitState(t, sub, StateLive)
	assert.Equal(t, []time.Duration{time.Second}, rec.recorded())
	assert.Equal(t, 1, st.ListenerCount())
}

func TestCloseIsIdempotentAndDetaches(t *testing.T) {
	st := memory.New()
	c := newController(t, st, &sleepRecorder{})

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	next(t, sub)
	assert.Equal(t, 1, c.Active())

	sub.Close()
	sub.Close()

	assert.Equal(t, StateClosed, sub.State())
	assert.Equal(t, 0, st.ListenerCount())
	assert.Equal(t, 0, c.Active())
	_, ok := <-sub.C()
	assert.False(t, ok)
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	st := memory.New()
	st.FailListen(store.ErrUnavailable)
	c := New(st, Options{BaseDelay: time.Hour, MaxRetries: 3})
	c.Start()
	defer c.Stop()

	sub, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	waitState(t, sub, StateRetrying)

	done := make(chan struct{})
	go func() {
		sub.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close blocked on a pending retry")
	}
	assert.Equal(t, StateClosed, sub.State())
}

func TestStopClosesAllSubscriptions(t *testing.T) {
	st := memory.New()
	c := New(st, Options{})
	c.Start()

	a, err := c.Subscribe(context.Background(), "u1", domain.Filters{})
	require.NoError(t, err)
	b, err := c.Subscribe(context.Background(), "u2", domain.Filters{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	c.Stop()
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, c.Active())

	_, err = c.Subscribe(context.Background(), "u1", domain.Filters{})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestSubscribeValidatesInput(t *testing.T) {
	c := newController(t, memory.New(), &sleepRecorder{})

	_, err := c.Subscribe(context.Background(), "", domain.Filters{})
	assert.ErrorIs(t, err, domain.ErrValidation)

	from, to := time.Unix(20, 0), time.Unix(10, 0)
	_, err = c.Subscribe(context.Background(), "u1", domain.Filters{From: &from, To: &to})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
