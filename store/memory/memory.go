// store/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

// Store is an in-process document store. It is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	notes   map[string]*domain.Note
	folders map[string]*domain.Folder
	tags    map[string]*domain.Tag
	assocs  map[string]*domain.Association

	unavailable bool
	listenErrs  []error

	hub *hub
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		notes:   make(map[string]*domain.Note),
		folders: make(map[string]*domain.Folder),
		tags:    make(map[string]*domain.Tag),
		assocs:  make(map[string]*domain.Association),
		hub:     newHub(),
		now:     time.Now,
	}
}

// SetUnavailable makes every operation fail with store.ErrUnavailable.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	s.unavailable = v
	s.mu.Unlock()
}

// FailListen makes the next len(errs) Listen calls fail, in order.
func (s *Store) FailListen(errs ...error) {
	s.mu.Lock()
	s.listenErrs = append(s.listenErrs, errs...)
	s.mu.Unlock()
}

// BreakListeners reports err to every attached listener of the owner.
func (s *Store) BreakListeners(ownerID string, err error) {
	s.hub.fail(ownerID, err)
}

// ListenerCount returns the number of attached listeners.
func (s *Store) ListenerCount() int {
	return s.hub.count()
}

func (s *Store) check() error {
	if s.unavailable {
		return store.ErrUnavailable
	}
	return nil
}

func folderKey(ownerID, path string) string { return ownerID + "\x00" + path }
func tagKey(ownerID, name string) string    { return ownerID + "\x00" + name }

func (s *Store) GetNote(ctx context.Context, id string) (*domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	n, ok := s.notes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *Store) ListNotes(ctx context.Context, q store.NoteQuery) ([]*domain.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.queryLocked(q), nil
}

func (s *Store) queryLocked(q store.NoteQuery) []*domain.Note {
	var out []*domain.Note
	for _, n := range s.notes {
		if q.Match(n) {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (s *Store) PutNote(ctx context.Context, n *domain.Note) error {
	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.notes[n.ID]
	s.notes[n.ID] = n.Clone()
	s.mu.Unlock()

	if prev != nil && prev.OwnerID != n.OwnerID {
		s.hub.changed(prev.OwnerID)
	}
	s.hub.changed(n.OwnerID)
	return nil
}

func (s *Store) DeleteNote(ctx context.Context, id string) error {
	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return err
	}
	n, ok := s.notes[id]
	delete(s.notes, id)
	s.mu.Unlock()

	if ok {
		s.hub.changed(n.OwnerID)
	}
	return nil
}

func (s *Store) GetFolder(ctx context.Context, ownerID, path string) (*domain.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	f, ok := s.folders[folderKey(ownerID, path)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return f.Clone(), nil
}

func (s *Store) ListFolders(ctx context.Context, ownerID string) ([]*domain.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*domain.Folder
	for _, f := range s.folders {
		if f.OwnerID == ownerID {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *Store) CreateFolder(ctx context.Context, f *domain.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	key := folderKey(f.OwnerID, f.Path)
	if _, ok := s.folders[key]; ok {
		return domain.ErrAlreadyExists
	}
	s.folders[key] = f.Clone()
	return nil
}

func (s *Store) AdjustFolderCount(ctx context.Context, ownerID, path string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.adjustFolderLocked(ownerID, path, delta)
	return nil
}

func (s *Store) adjustFolderLocked(ownerID, path string, delta int) {
	f, ok := s.folders[folderKey(ownerID, path)]
	if !ok {
		return
	}
	f.NotesCount = max(f.NotesCount+delta, 0)
	f.UpdatedAt = s.now()
}

func (s *Store) GetTag(ctx context.Context, ownerID, name string) (*domain.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	t, ok := s.tags[tagKey(ownerID, name)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *Store) ListTags(ctx context.Context, ownerID string) ([]*domain.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*domain.Tag
	for _, t := range s.tags {
		if t.OwnerID == ownerID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) CreateTag(ctx context.Context, t *domain.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	key := tagKey(t.OwnerID, t.Name)
	if _, ok := s.tags[key]; ok {
		return domain.ErrAlreadyExists
	}
	c := *t
	s.tags[key] = &c
	return nil
}

func (s *Store) AdjustTagUsage(ctx context.Context, ownerID, name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	t, ok := s.tags[tagKey(ownerID, name)]
	if !ok {
		return domain.ErrNotFound
	}
	t.UsageCount = max(t.UsageCount+delta, 0)
	return nil
}

func (s *Store) GetAssociation(ctx context.Context, id string) (*domain.Association, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	a, ok := s.assocs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) ListAssociations(ctx context.Context, q store.AssociationQuery) ([]*domain.Association, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []*domain.Association
	for _, a := range s.assocs {
		if q.Match(a) {
			out = append(out, a.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PutAssociation(ctx context.Context, a *domain.Association) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	s.assocs[a.ID] = a.Clone()
	return nil
}

func (s *Store) DeleteAssociation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	delete(s.assocs, id)
	return nil
}

// Commit validates the whole batch before touching any record, so a failed
// batch leaves the store unchanged.
func (s *Store) Commit(ctx context.Context, b *store.Batch) error {
	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, op := range b.Ops() {
		if op.Kind == store.OpPutNote && op.Note == nil {
			s.mu.Unlock()
			return domain.Validationf("batch put without a note")
		}
	}

	owners := make(map[string]struct{})
	for _, op := range b.Ops() {
		switch op.Kind {
		case store.OpPutNote:
			s.notes[op.Note.ID] = op.Note.Clone()
			owners[op.Note.OwnerID] = struct{}{}
		case store.OpDeleteFolder:
			delete(s.folders, folderKey(op.OwnerID, op.Path))
		case store.OpDeleteTag:
			delete(s.tags, tagKey(op.OwnerID, op.Name))
		case store.OpAdjustFolderCount:
			s.adjustFolderLocked(op.OwnerID, op.Path, op.Delta)
		}
	}
	s.mu.Unlock()

	for owner := range owners {
		s.hub.changed(owner)
	}
	return nil
}
