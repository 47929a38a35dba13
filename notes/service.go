// notes/service.go
package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

// Service is the authoritative write path for notes, folders and tags. It
// keeps derived fields and denormalized counters in step with note writes.
type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log.With().Str("component", "notes").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store: st,
		log:   zerolog.Nop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NoteInput is the payload of a note creation. ID may be supplied so the
// same note is addressed identically in the local mirror.
type NoteInput struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Content         json.RawMessage `json:"content"`
	HTMLContent     string          `json:"htmlContent"`
	MarkdownContent string          `json:"markdownContent"`
	FolderPath      string          `json:"folderPath"`
	Tags            []string        `json:"tags"`
	FileID          string          `json:"fileId"`
	FileName        string          `json:"fileName"`
	FileType        string          `json:"fileType"`
	Type            domain.NoteType `json:"type"`
	Category        string          `json:"category"`
	NoteType        string          `json:"noteType"`
}

// NoteUpdate carries only the fields being changed.
type NoteUpdate struct {
	Title           *string          `json:"title"`
	Content         *json.RawMessage `json:"content"`
	HTMLContent     *string          `json:"htmlContent"`
	MarkdownContent *string          `json:"markdownContent"`
	FolderPath      *string          `json:"folderPath"`
	Tags            *[]string        `json:"tags"`
	FileID          *string          `json:"fileId"`
	FileName        *string          `json:"fileName"`
	FileType        *string          `json:"fileType"`
	Type            *domain.NoteType `json:"type"`
	Category        *string          `json:"category"`
	NoteType        *string          `json:"noteType"`
}

// Input turns an update into a creation payload for the given id.
func (u NoteUpdate) Input(id string) NoteInput {
	in := NoteInput{ID: id}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&in.Title, u.Title)
	set(&in.HTMLContent, u.HTMLContent)
	set(&in.MarkdownContent, u.MarkdownContent)
	set(&in.FolderPath, u.FolderPath)
	set(&in.FileID, u.FileID)
	set(&in.FileName, u.FileName)
	set(&in.FileType, u.FileType)
	set(&in.Category, u.Category)
	set(&in.NoteType, u.NoteType)
	if u.Content != nil {
		in.Content = *u.Content
	}
	if u.Tags != nil {
		in.Tags = *u.Tags
	}
	if u.Type != nil {
		in.Type = *u.Type
	}
	return in
}

// InputFrom rebuilds the creation payload of an existing note, id included.
func InputFrom(n *domain.Note) NoteInput {
	return NoteInput{
		ID:              n.ID,
		Title:           n.Title,
		Content:         n.Content,
		HTMLContent:     n.HTMLContent,
		MarkdownContent: n.MarkdownContent,
		FolderPath:      n.FolderPath,
		Tags:            n.Tags,
		FileID:          n.FileID,
		FileName:        n.FileName,
		FileType:        n.FileType,
		Type:            n.Type,
		Category:        n.Category,
		NoteType:        n.NoteType,
	}
}

// UpdateFrom is a full update that restores every editable field of n.
func UpdateFrom(n *domain.Note) NoteUpdate {
	c := n.Clone()
	return NoteUpdate{
		Title:           &c.Title,
		Content:         &c.Content,
		HTMLContent:     &c.HTMLContent,
		MarkdownContent: &c.MarkdownContent,
		FolderPath:      &c.FolderPath,
		Tags:            &c.Tags,
		FileID:          &c.FileID,
		FileName:        &c.FileName,
		FileType:        &c.FileType,
		Type:            &c.Type,
		Category:        &c.Category,
		NoteType:        &c.NoteType,
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.Validationf("owner id is required")
	}
	return nil
}

// validateNoteID rejects ids that could name a path outside a directory
// once used as a file name.
func validateNoteID(id string) error {
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return domain.Validationf("note id %q must not contain path separators or '..'", id)
	}
	return nil
}

func resolveType(t domain.NoteType, fileID string) (domain.NoteType, error) {
	switch t {
	case "":
		if fileID != "" {
			return domain.NoteFileAssociated, nil
		}
		return domain.NoteStandalone, nil
	case domain.NoteStandalone, domain.NoteFileAssociated:
		return t, nil
	default:
		return "", domain.Validationf("unknown note type %q", t)
	}
}

func (s *Service) CreateNote(ctx context.Context, in NoteInput, ownerID string) (*domain.Note, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	path := domain.NormalizeFolderPath(in.FolderPath)
	if err := domain.ValidateFolderPath(path); err != nil {
		return nil, err
	}
	typ, err := resolveType(in.Type, in.FileID)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(in.ID)
	if err := validateNoteID(id); err != nil {
		return nil, err
	}
	if id == "" {
		id = s.newID()
	} else if _, err := s.store.GetNote(ctx, id); err == nil {
		return nil, fmt.Errorf("%w: note %s", domain.ErrAlreadyExists, id)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to check note %s: %w", id, err)
	}

	if _, err := s.EnsureFolder(ctx, path, ownerID); err != nil {
		return nil, err
	}

	now := s.now()
	note := &domain.Note{
		ID:              id,
		Title:           in.Title,
		Content:         in.Content,
		HTMLContent:     in.HTMLContent,
		MarkdownContent: in.MarkdownContent,
		FolderPath:      path,
		Tags:            domain.NormalizeTags(in.Tags),
		FileID:          in.FileID,
		FileName:        in.FileName,
		FileType:        in.FileType,
		OwnerID:         ownerID,
		Type:            typ,
		Category:        in.Category,
		NoteType:        in.NoteType,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	note.Derive()

	if err := s.store.PutNote(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	// The note is persisted at this point; counter drift is repaired by the
	// next successful write, so failures below are logged only.
	if err := s.store.AdjustFolderCount(ctx, ownerID, path, 1); err != nil {
		s.log.Error().Err(err).Str("note_id", id).Str("folder", path).Msg("Failed to increment folder count")
	}
	if err := s.CreateTagsIfNotExist(ctx, note.Tags, ownerID); err != nil {
		s.log.Error().Err(err).Str("note_id", id).Msg("Failed to record tag usage")
	}

	s.log.Debug().Str("note_id", id).Str("owner_id", ownerID).Msg("Note created")
	return note, nil
}

func (s *Service) GetNote(ctx context.Context, id, ownerID string) (*domain.Note, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	note, err := s.store.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if note.OwnerID != ownerID {
		return nil, domain.ErrUnauthorized
	}
	return note, nil
}

// UpdateNote applies a partial update. A note that does not exist yet is
// created from the payload with the requested id, which heals id races
// between the local mirror and the remote store.
func (s *Service) UpdateNote(ctx context.Context, id string, upd NoteUpdate, ownerID string) (*domain.Note, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, domain.Validationf("note id is required")
	}
	if err := validateNoteID(id); err != nil {
		return nil, err
	}

	existing, err := s.store.GetNote(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Str("note_id", id).Msg("Note not found on update, creating it")
		return s.CreateNote(ctx, upd.Input(id), ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load note %s: %w", id, err)
	}
	if existing.OwnerID != ownerID {
		return nil, domain.ErrUnauthorized
	}

	note := existing.Clone()
	derive := false
	if upd.Title != nil {
		note.Title = *upd.Title
		derive = true
	}
	if upd.Content != nil {
		note.Content = *upd.Content
		derive = true
	}
	if upd.MarkdownContent != nil {
		note.MarkdownContent = *upd.MarkdownContent
		derive = true
	}
	if upd.HTMLContent != nil {
		note.HTMLContent = *upd.HTMLContent
	}
	if upd.FileID != nil {
		note.FileID = *upd.FileID
	}
	if upd.FileName != nil {
		note.FileName = *upd.FileName
	}
	if upd.FileType != nil {
		note.FileType = *upd.FileType
	}
	if upd.Category != nil {
		note.Category = *upd.Category
	}
	if upd.NoteType != nil {
		note.NoteType = *upd.NoteType
	}
	if upd.Type != nil {
		typ, err := resolveType(*upd.Type, note.FileID)
		if err != nil {
			return nil, err
		}
		note.Type = typ
	}

	var addedTags []string
	if upd.Tags != nil {
		note.Tags = domain.NormalizeTags(*upd.Tags)
		for _, t := range note.Tags {
			if !existing.HasTag(t) {
				addedTags = append(addedTags, t)
			}
		}
	}

	oldPath := existing.FolderPath
	if upd.FolderPath != nil {
		path := domain.NormalizeFolderPath(*upd.FolderPath)
		if err := domain.ValidateFolderPath(path); err != nil {
			return nil, err
		}
		note.FolderPath = path
	}
	moved := note.FolderPath != oldPath
	if moved {
		if _, err := s.EnsureFolder(ctx, note.FolderPath, ownerID); err != nil {
			return nil, err
		}
	}

	if derive {
		note.Derive()
	}
	note.UpdatedAt = s.now()

	if err := s.store.PutNote(ctx, note); err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}

	if len(addedTags) > 0 {
		if err := s.CreateTagsIfNotExist(ctx, addedTags, ownerID); err != nil {
			s.log.Error().Err(err).Str("note_id", id).Msg("Failed to record tag usage")
		}
	}
	if moved {
		// Two separate writes: a crash in between leaves the counters off by
		// one until the next move.
		if err := s.store.AdjustFolderCount(ctx, ownerID, oldPath, -1); err != nil {
			s.log.Error().Err(err).Str("folder", oldPath).Msg("Failed to decrement folder count")
		}
		if err := s.store.AdjustFolderCount(ctx, ownerID, note.FolderPath, 1); err != nil {
			s.log.Error().Err(err).Str("folder", note.FolderPath).Msg("Failed to increment folder count")
		}
	}
	return note, nil
}

// DeleteNote is idempotent: deleting a missing note succeeds.
func (s *Service) DeleteNote(ctx context.Context, id, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	existing, err := s.store.GetNote(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Debug().Str("note_id", id).Msg("Note already deleted")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load note %s: %w", id, err)
	}
	if existing.OwnerID != ownerID {
		return domain.ErrUnauthorized
	}

	if err := s.store.DeleteNote(ctx, id); err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if err := s.store.AdjustFolderCount(ctx, ownerID, existing.FolderPath, -1); err != nil {
		s.log.Error().Err(err).Str("folder", existing.FolderPath).Msg("Failed to decrement folder count")
	}
	return nil
}

// GetNotes returns the owner's notes, most recently updated first, with the
// filters applied after the fetch.
func (s *Service) GetNotes(ctx context.Context, ownerID string, f domain.Filters) ([]*domain.Note, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	notes, err := s.store.ListNotes(ctx, store.NoteQuery{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return f.Apply(notes), nil
}

func (s *Service) GetNotesByFile(ctx context.Context, fileID, ownerID string) ([]*domain.Note, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, domain.Validationf("file id is required")
	}
	return s.GetNotes(ctx, ownerID, domain.Filters{FileID: fileID})
}

type Stats struct {
	TotalNotes      int                     `json:"totalNotes"`
	TotalWords      int                     `json:"totalWords"`
	TotalCharacters int                     `json:"totalCharacters"`
	ByType          map[domain.NoteType]int `json:"byType"`
	ByFolder        map[string]int          `json:"byFolder"`
	Tags            int                     `json:"tags"`
}

func (s *Service) Stats(ctx context.Context, ownerID string) (*Stats, error) {
	notes, err := s.GetNotes(ctx, ownerID, domain.Filters{})
	if err != nil {
		return nil, err
	}
	tags, err := s.store.ListTags(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	st := &Stats{
		ByType:   make(map[domain.NoteType]int),
		ByFolder: make(map[string]int),
		Tags:     len(tags),
	}
	for _, n := range notes {
		st.TotalNotes++
		st.TotalWords += n.WordCount
		st.TotalCharacters += n.CharacterCount
		st.ByType[n.Type]++
		st.ByFolder[n.FolderPath]++
	}
	return st, nil
}
