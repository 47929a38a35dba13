// mirror/associations.go
package mirror

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

// AssociationRemote is the remote side of the association service.
type AssociationRemote interface {
	GetAssociation(ctx context.Context, id string) (*domain.Association, error)
	ListAssociations(ctx context.Context, q store.AssociationQuery) ([]*domain.Association, error)
	PutAssociation(ctx context.Context, a *domain.Association) error
	DeleteAssociation(ctx context.Context, id string) error
}

// Associations links notes to PDFs. Writes go to the remote store first and
// then to the local mirror under the same id; reads try the mirror first.
type Associations struct {
	local  *Local
	remote AssociationRemote
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

type AssociationsOption func(*Associations)

func WithAssociationLogger(log zerolog.Logger) AssociationsOption {
	return func(a *Associations) { a.log = log.With().Str("component", "associations").Logger() }
}

func WithAssociationClock(now func() time.Time) AssociationsOption {
	return func(a *Associations) { a.now = now }
}

func WithAssociationIDs(newID func() string) AssociationsOption {
	return func(a *Associations) { a.newID = newID }
}

func NewAssociations(local *Local, remote AssociationRemote, opts ...AssociationsOption) *Associations {
	a := &Associations{
		local:  local,
		remote: remote,
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (s *Associations) write(ctx context.Context, name string, remoteDo, remoteUndo, localDo, localUndo func(context.Context) error) error {
	return NewSaga(s.log).
		Add(Step{Name: "remote " + name, Do: remoteDo, Undo: remoteUndo}).
		Add(Step{Name: "local " + name, Do: localDo, Undo: localUndo, Optional: true}).
		Run(ctx)
}

// Create links a note to a PDF. A note that is already linked yields
// domain.ErrAlreadyExists.
func (s *Associations) Create(ctx context.Context, noteID, pdfID, userID string, metadata map[string]any) (*domain.Association, error) {
	if strings.TrimSpace(noteID) == "" || strings.TrimSpace(pdfID) == "" {
		return nil, domain.Validationf("note id and pdf id are required")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, domain.Validationf("user id is required")
	}
	if _, err := s.GetByNoteID(ctx, noteID); err == nil {
		return nil, domain.ErrAlreadyExists
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	a := &domain.Association{
		ID:           s.newID(),
		NoteID:       noteID,
		PDFID:        pdfID,
		UserID:       userID,
		CreatedAt:    now,
		LastModified: now,
		Metadata:     metadata,
	}
	err := s.write(ctx, "create",
		func(ctx context.Context) error { return s.remote.PutAssociation(ctx, a) },
		func(ctx context.Context) error { return s.remote.DeleteAssociation(ctx, a.ID) },
		func(ctx context.Context) error { return s.local.PutAssociation(ctx, a) },
		func(ctx context.Context) error { return s.local.DeleteAssociation(ctx, a.ID) },
	)
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("association_id", a.ID).Str("note_id", noteID).Str("pdf_id", pdfID).Msg("Association created")
	return a, nil
}

// Update merges metadata into the association. Keys mapped to nil are
// removed.
func (s *Associations) Update(ctx context.Context, id string, metadata map[string]any, userID string) (*domain.Association, error) {
	prev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if prev.UserID != userID {
		return nil, domain.ErrUnauthorized
	}

	next := prev.Clone()
	if next.Metadata == nil {
		next.Metadata = make(map[string]any, len(metadata))
	}
	for k, v := range metadata {
		if v == nil {
			delete(next.Metadata, k)
			continue
		}
		next.Metadata[k] = v
	}
	next.LastModified = s.now()

	err = s.write(ctx, "update",
		func(ctx context.Context) error { return s.remote.PutAssociation(ctx, next) },
		func(ctx context.Context) error { return s.remote.PutAssociation(ctx, prev) },
		func(ctx context.Context) error { return s.local.PutAssociation(ctx, next) },
		func(ctx context.Context) error { return s.local.PutAssociation(ctx, prev) },
	)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes the association from both stores. Deleting a missing
// association is not an error.
func (s *Associations) Delete(ctx context.Context, id, userID string) error {
	prev, err := s.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.UserID != userID {
		return domain.ErrUnauthorized
	}
	// A row left behind locally would keep answering reads and block a new
	// link for the note, so the local delete is required here.
	return NewSaga(s.log).
		Add(Step{
			Name: "remote delete",
			Do:   func(ctx context.Context) error { return s.remote.DeleteAssociation(ctx, id) },
			Undo: func(ctx context.Context) error { return s.remote.PutAssociation(ctx, prev) },
		}).
		Add(Step{
			Name: "local delete",
			Do:   func(ctx context.Context) error { return s.local.DeleteAssociation(ctx, id) },
		}).
		Run(ctx)
}

func (s *Associations) Get(ctx context.Context, id string) (*domain.Association, error) {
	a, err := s.local.GetAssociation(ctx, id)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Err(err).Str("association_id", id).Msg("Local read failed, using remote")
	}
	a, err = s.remote.GetAssociation(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, a)
	return a, nil
}

// GetByNoteID returns the note's association or domain.ErrNotFound.
func (s *Associations) GetByNoteID(ctx context.Context, noteID string) (*domain.Association, error) {
	a, err := s.local.GetAssociationByNoteID(ctx, noteID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Err(err).Str("note_id", noteID).Msg("Local read failed, using remote")
	}
	list, err := s.remote.ListAssociations(ctx, store.AssociationQuery{NoteID: noteID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	s.cache(ctx, list[0])
	return list[0], nil
}

// GetByPDFID returns every note association of the PDF.
func (s *Associations) GetByPDFID(ctx context.Context, pdfID string) ([]*domain.Association, error) {
	list, err := s.local.ListAssociationsByPDFID(ctx, pdfID)
	if err == nil && len(list) > 0 {
		return list, nil
	}
	if err != nil {
		s.log.Warn().Err(err).Str("pdf_id", pdfID).Msg("Local read failed, using remote")
	}
	list, err = s.remote.ListAssociations(ctx, store.AssociationQuery{PDFID: pdfID})
	if err != nil {
		return nil, err
	}
	for _, a := range list {
		s.cache(ctx, a)
	}
	return list, nil
}

// SyncWithRemote replaces the user's local associations with the remote
// set and returns how many were stored.
func (s *Associations) SyncWithRemote(ctx context.Context, userID string) (int, error) {
	list, err := s.remote.ListAssociations(ctx, store.AssociationQuery{UserID: userID})
	if err != nil {
		return 0, err
	}
	if err := s.local.ReplaceAssociations(ctx, userID, list); err != nil {
		return 0, err
	}
	s.log.Info().Str("user_id", userID).Int("count", len(list)).Msg("Associations resynced")
	return len(list), nil
}

func (s *Associations) cache(ctx context.Context, a *domain.Association) {
	if err := s.local.PutAssociation(ctx, a); err != nil {
		s.log.Warn().Err(err).Str("association_id", a.ID).Msg("Failed to cache association locally")
	}
}
