// store/store.go
package store

import (
	"context"
	"errors"

	"github.com/ViniZap4/thesis-notes/domain"
)

// ErrUnavailable is returned when the backend cannot be reached.
var ErrUnavailable = domain.TransientError(errors.New("document store unavailable"))

// NoteQuery holds the criteria a backend evaluates itself. Results are
// ordered by UpdatedAt, most recent first.
type NoteQuery struct {
	OwnerID    string
	FolderPath string
	FileID     string
	Type       domain.NoteType
	Limit      int
}

// QueryFor splits the server-side part off a filter set.
func QueryFor(ownerID string, f domain.Filters, limit int) NoteQuery {
	return NoteQuery{
		OwnerID:    ownerID,
		FolderPath: f.FolderPath,
		FileID:     f.FileID,
		Type:       f.Type,
		Limit:      limit,
	}
}

func (q NoteQuery) Match(n *domain.Note) bool {
	if n.OwnerID != q.OwnerID {
		return false
	}
	if q.FolderPath != "" && n.FolderPath != q.FolderPath {
		return false
	}
	if q.FileID != "" && n.FileID != q.FileID {
		return false
	}
	if q.Type != "" && n.Type != q.Type {
		return false
	}
	return true
}

type AssociationQuery struct {
	NoteID string
	PDFID  string
	UserID string
}

func (q AssociationQuery) Match(a *domain.Association) bool {
	if q.NoteID != "" && a.NoteID != q.NoteID {
		return false
	}
	if q.PDFID != "" && a.PDFID != q.PDFID {
		return false
	}
	if q.UserID != "" && a.UserID != q.UserID {
		return false
	}
	return true
}

// Store is the remote document store. Get methods return domain.ErrNotFound
// for missing records; Create methods return domain.ErrAlreadyExists.
type Store interface {
	GetNote(ctx context.Context, id string) (*domain.Note, error)
	ListNotes(ctx context.Context, q NoteQuery) ([]*domain.Note, error)
	PutNote(ctx context.Context, n *domain.Note) error
	DeleteNote(ctx context.Context, id string) error

	GetFolder(ctx context.Context, ownerID, path string) (*domain.Folder, error)
	// ListFolders returns the owner's folders ordered by path.
	ListFolders(ctx context.Context, ownerID string) ([]*domain.Folder, error)
	CreateFolder(ctx context.Context, f *domain.Folder) error
	// AdjustFolderCount adds delta to notesCount, clamping at zero. A missing
	// folder is not an error.
	AdjustFolderCount(ctx context.Context, ownerID, path string, delta int) error

	GetTag(ctx context.Context, ownerID, name string) (*domain.Tag, error)
	ListTags(ctx context.Context, ownerID string) ([]*domain.Tag, error)
	CreateTag(ctx context.Context, t *domain.Tag) error
	AdjustTagUsage(ctx context.Context, ownerID, name string, delta int) error

	GetAssociation(ctx context.Context, id string) (*domain.Association, error)
	ListAssociations(ctx context.Context, q AssociationQuery) ([]*domain.Association, error)
	PutAssociation(ctx context.Context, a *domain.Association) error
	DeleteAssociation(ctx context.Context, id string) error

	// Commit applies every operation of the batch atomically.
	Commit(ctx context.Context, b *Batch) error

	Listener
}

// SnapshotFunc receives the full result set of a query, never a diff.
type SnapshotFunc func(notes []*domain.Note)

// Listener attaches real-time snapshot listeners. A successful Listen
// delivers the current result set, then a new one after every change. A
// listener that fails reports once through onError and stops; detach is
// safe to call any number of times.
type Listener interface {
	Listen(ctx context.Context, q NoteQuery, onSnapshot SnapshotFunc, onError func(error)) (detach func(), err error)
}
