// mirror/notes_mirror.go
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/notes"
	"github.com/ViniZap4/thesis-notes/realtime"
)

// NoteMirror writes notes through the remote service and keeps the local
// copy in step, so the owner's notes stay readable offline.
type NoteMirror struct {
	svc   *notes.Service
	local *Local
	log   zerolog.Logger

	mu        sync.Mutex
	following map[string]*realtime.Subscription
}

func NewNoteMirror(svc *notes.Service, local *Local, log zerolog.Logger) *NoteMirror {
	return &NoteMirror{
		svc:       svc,
		local:     local,
		log:       log.With().Str("component", "note-mirror").Logger(),
		following: make(map[string]*realtime.Subscription),
	}
}

func (m *NoteMirror) CreateNote(ctx context.Context, in notes.NoteInput, ownerID string) (*domain.Note, error) {
	var created *domain.Note
	err := NewSaga(m.log).
		Add(Step{
			Name: "remote create note",
			Do: func(ctx context.Context) error {
				n, err := m.svc.CreateNote(ctx, in, ownerID)
				created = n
				return err
			},
			Undo: func(ctx context.Context) error { return m.svc.DeleteNote(ctx, created.ID, ownerID) },
		}).
		Add(Step{
			Name:     "local create note",
			Do:       func(ctx context.Context) error { return m.local.PutNote(ctx, created) },
			Optional: true,
		}).
		Add(Step{
			Name:     "local folders and tags",
			Do:       func(ctx context.Context) error { return m.syncLibrary(ctx, ownerID) },
			Optional: true,
		}).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (m *NoteMirror) UpdateNote(ctx context.Context, id string, upd notes.NoteUpdate, ownerID string) (*domain.Note, error) {
	prev, err := m.svc.GetNote(ctx, id, ownerID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	var updated *domain.Note
	undo := func(ctx context.Context) error {
		if prev == nil {
			return m.svc.DeleteNote(ctx, id, ownerID)
		}
		_, err := m.svc.UpdateNote(ctx, id, notes.UpdateFrom(prev), ownerID)
		return err
	}
	err = NewSaga(m.log).
		Add(Step{
			Name: "remote update note",
			Do: func(ctx context.Context) error {
				n, err := m.svc.UpdateNote(ctx, id, upd, ownerID)
				updated = n
				return err
			},
			Undo: undo,
		}).
		Add(Step{
			Name:     "local update note",
			Do:       func(ctx context.Context) error { return m.local.PutNote(ctx, updated) },
			Optional: true,
		}).
		Add(Step{
			Name:     "local folders and tags",
			Do:       func(ctx context.Context) error { return m.syncLibrary(ctx, ownerID) },
			Optional: true,
		}).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (m *NoteMirror) DeleteNote(ctx context.Context, id, ownerID string) error {
	prev, err := m.svc.GetNote(ctx, id, ownerID)
	if errors.Is(err, domain.ErrNotFound) {
		return m.local.DeleteNote(ctx, id)
	}
	if err != nil {
		return err
	}
	return NewSaga(m.log).
		Add(Step{
			Name: "remote delete note",
			Do:   func(ctx context.Context) error { return m.svc.DeleteNote(ctx, id, ownerID) },
			Undo: func(ctx context.Context) error {
				_, err := m.svc.CreateNote(ctx, notes.InputFrom(prev), ownerID)
				return err
			},
		}).
		Add(Step{
			Name:     "local delete note",
			Do:       func(ctx context.Context) error { return m.local.DeleteNote(ctx, id) },
			Optional: true,
		}).
		Add(Step{
			Name:     "local folders and tags",
			Do:       func(ctx context.Context) error { return m.syncLibrary(ctx, ownerID) },
			Optional: true,
		}).
		Run(ctx)
}

// syncLibrary copies the owner's folders and tags, whose counters a note
// write changes on the remote side.
func (m *NoteMirror) syncLibrary(ctx context.Context, ownerID string) error {
	folders, err := m.svc.GetFolders(ctx, ownerID)
	if err != nil {
		return err
	}
	tags, err := m.svc.GetTags(ctx, ownerID)
	if err != nil {
		return err
	}
	if err := m.local.ReplaceFolders(ctx, ownerID, folders); err != nil {
		return fmt.Errorf("failed to replace local folders: %w", err)
	}
	if err := m.local.ReplaceTags(ctx, ownerID, tags); err != nil {
		return fmt.Errorf("failed to replace local tags: %w", err)
	}
	return nil
}

// Reconcile replaces the owner's local notes with a snapshot. The snapshot
// must be complete: anything missing from it is deleted locally.
func (m *NoteMirror) Reconcile(ctx context.Context, ownerID string, snapshot []*domain.Note) error {
	if err := m.local.ReplaceNotes(ctx, ownerID, snapshot); err != nil {
		return fmt.Errorf("failed to reconcile local notes: %w", err)
	}
	m.log.Debug().Str("owner_id", ownerID).Int("notes", len(snapshot)).Msg("Local notes reconciled")
	return nil
}

// Offline answers a filtered query from the local copy only.
func (m *NoteMirror) Offline(ctx context.Context, ownerID string, f domain.Filters) ([]*domain.Note, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	list, err := m.local.ListNotes(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return f.Apply(list), nil
}

// Resync pulls the owner's notes, folders and tags from the remote service
// and replaces the local copy.
func (m *NoteMirror) Resync(ctx context.Context, ownerID string) error {
	list, err := m.svc.GetNotes(ctx, ownerID, domain.Filters{})
	if err != nil {
		return err
	}
	if err := m.Reconcile(ctx, ownerID, list); err != nil {
		return err
	}
	if err := m.syncLibrary(ctx, ownerID); err != nil {
		return err
	}
	m.log.Info().Str("owner_id", ownerID).Int("notes", len(list)).Msg("Local mirror resynced")
	return nil
}

// Subscriber opens unfiltered note subscriptions for an owner.
type Subscriber interface {
	Subscribe(ctx context.Context, ownerID string, f domain.Filters) (*realtime.Subscription, error)
}

// Follow keeps the owner's local notes in step with the remote store until
// the subscription closes. A second call for an owner already followed is a
// no-op.
func (m *NoteMirror) Follow(ownerID string, subs Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.following[ownerID]; ok {
		return nil
	}
	sub, err := subs.Subscribe(context.Background(), ownerID, domain.Filters{})
	if err != nil {
		return err
	}
	m.following[ownerID] = sub
	go func() {
		m.follow(ownerID, sub)
		m.mu.Lock()
		if m.following[ownerID] == sub {
			delete(m.following, ownerID)
		}
		m.mu.Unlock()
	}()
	return nil
}

// Following reports whether a live follower exists for the owner.
func (m *NoteMirror) Following(ownerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.following[ownerID]
	return ok
}

// StopFollowing closes the owner's follower, if any.
func (m *NoteMirror) StopFollowing(ownerID string) {
	m.mu.Lock()
	sub := m.following[ownerID]
	delete(m.following, ownerID)
	m.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// follow applies snapshots in order. A truncated snapshot is not the whole
// set, so it triggers a full resync instead of a replace.
func (m *NoteMirror) follow(ownerID string, sub *realtime.Subscription) {
	ctx := context.Background()
	for snap := range sub.C() {
		if snap.Err != nil {
			continue
		}
		var err error
		if snap.Truncated {
			err = m.Resync(ctx, ownerID)
		} else {
			err = m.Reconcile(ctx, ownerID, snap.Notes)
		}
		if err != nil {
			m.log.Error().Err(err).Str("owner_id", ownerID).Bool("truncated", snap.Truncated).Msg("Failed to apply snapshot")
		}
	}
}
