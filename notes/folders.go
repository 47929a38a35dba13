// notes/folders.go
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

// CreateFolder creates name under parentPath ("" or "/" for root). An
// existing folder is returned as is.
func (s *Service) CreateFolder(ctx context.Context, name, parentPath, ownerID string) (*domain.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validationf("folder name is required")
	}
	if strings.Contains(name, "/") {
		return nil, domain.Validationf("folder name %q must not contain /", name)
	}
	return s.EnsureFolder(ctx, domain.JoinFolderPath(parentPath, name), ownerID)
}

// EnsureFolder returns the folder at path, creating it when missing.
func (s *Service) EnsureFolder(ctx context.Context, path, ownerID string) (*domain.Folder, error) {
	if err := domain.ValidateFolderPath(path); err != nil {
		return nil, err
	}
	f, err := s.store.GetFolder(ctx, ownerID, path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to load folder %s: %w", path, err)
	}

	now := s.now()
	f = domain.NewFolder(s.newID(), path, ownerID)
	f.CreatedAt = now
	f.UpdatedAt = now
	err = s.store.CreateFolder(ctx, f)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.store.GetFolder(ctx, ownerID, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", path, err)
	}
	s.log.Debug().Str("folder", path).Str("owner_id", ownerID).Msg("Folder created")
	return f, nil
}

func (s *Service) GetFolders(ctx context.Context, ownerID string) ([]*domain.Folder, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

type FolderDeletion struct {
	DeletedFolders []string `json:"deletedFolders"`
	MovedNotes     int      `json:"movedNotes"`
	MovedTo        string   `json:"movedTo"`
}

// DeleteFolder removes the folder and every descendant, and re-homes all
// notes of the subtree to moveTo, in one atomic batch.
func (s *Service) DeleteFolder(ctx context.Context, path, ownerID, moveTo string) (*FolderDeletion, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	path = domain.NormalizeFolderPath(path)
	moveTo = domain.NormalizeFolderPath(moveTo)
	if domain.InSubtree(moveTo, path) {
		return nil, domain.Validationf("cannot move notes of %s into %s", path, moveTo)
	}
	if _, err := s.store.GetFolder(ctx, ownerID, path); err != nil {
		return nil, err
	}

	folders, err := s.store.ListFolders(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	notes, err := s.store.ListNotes(ctx, store.NoteQuery{OwnerID: ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	if _, err := s.EnsureFolder(ctx, moveTo, ownerID); err != nil {
		return nil, err
	}

	batch := store.NewBatch()
	res := &FolderDeletion{MovedTo: moveTo}
	for _, f := range folders {
		if domain.InSubtree(f.Path, path) {
			batch.DeleteFolder(ownerID, f.Path)
			res.DeletedFolders = append(res.DeletedFolders, f.Path)
		}
	}
	now := s.now()
	for _, n := range notes {
		if !domain.InSubtree(n.FolderPath, path) {
			continue
		}
		n.FolderPath = moveTo
		n.UpdatedAt = now
		batch.PutNote(n)
		res.MovedNotes++
	}
	if res.MovedNotes > 0 {
		batch.AdjustFolderCount(ownerID, moveTo, res.MovedNotes)
	}

	if err := s.store.Commit(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to delete folder %s: %w", path, err)
	}
	s.log.Info().
		Str("folder", path).
		Int("folders", len(res.DeletedFolders)).
		Int("notes_moved", res.MovedNotes).
		Msg("Folder deleted")
	return res, nil
}
