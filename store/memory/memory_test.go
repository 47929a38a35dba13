package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateFolder(ctx, domain.NewFolder("f1", "/Research", "u1")))

	bad := store.NewBatch().DeleteFolder("u1", "/Research")
	bad.Ops()[0].Kind = store.OpPutNote

	assert.ErrorIs(t, s.Commit(ctx, bad), domain.ErrValidation)
	_, err := s.GetFolder(ctx, "u1", "/Research")
	assert.NoError(t, err)
}

func TestFolderCountClampsAtZero(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateFolder(ctx, domain.NewFolder("f1", "/General", "u1")))

	require.NoError(t, s.AdjustFolderCount(ctx, "u1", "/General", -3))
	f, err := s.GetFolder(ctx, "u1", "/General")
	require.NoError(t, err)
	assert.Equal(t, 0, f.NotesCount)

	assert.NoError(t, s.AdjustFolderCount(ctx, "u1", "/Missing", 1))
}

func TestListNotesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutNote(ctx, &domain.Note{ID: id, OwnerID: "u1", UpdatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, s.PutNote(ctx, &domain.Note{ID: "z", OwnerID: "u2", UpdatedAt: base}))

	notes, err := s.ListNotes(ctx, store.NoteQuery{OwnerID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "c", notes[0].ID)
	assert.Equal(t, "b", notes[1].ID)
}

func TestListenDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := New()
	snaps := make(chan []*domain.Note, 8)

	detach, err := s.Listen(ctx, store.NoteQuery{OwnerID: "u1"}, func(n []*domain.Note) { snaps <- n }, nil)
	require.NoError(t, err)
	defer detach()

	select {
	case n := <-snaps:
		assert.Empty(t, n)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, s.PutNote(ctx, &domain.Note{ID: "a", OwnerID: "u1"}))
	assert.Eventually(t, func() bool {
		select {
		case n := <-snaps:
			return len(n) == 1 && n[0].ID == "a"
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	detach()
	detach()
	assert.Eventually(t, func() bool { return s.ListenerCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestListenFaults(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailListen(boom)

	_, err := s.Listen(ctx, store.NoteQuery{OwnerID: "u1"}, func([]*domain.Note) {}, nil)
	assert.ErrorIs(t, err, boom)

	errs := make(chan error, 1)
	_, err = s.Listen(ctx, store.NoteQuery{OwnerID: "u1"}, func([]*domain.Note) {}, func(err error) { errs <- err })
	require.NoError(t, err)

	s.BreakListeners("u1", store.ErrUnavailable)
	select {
	case err := <-errs:
		assert.True(t, domain.IsTransient(err))
	case <-time.After(time.Second):
		t.Fatal("listener error not reported")
	}
	assert.Eventually(t, func() bool { return s.ListenerCount() == 0 }, time.Second, 10*time.Millisecond)
}
