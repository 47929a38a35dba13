// notes/export.go
package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ViniZap4/thesis-notes/domain"
)

const ExportVersion = 1

type Export struct {
	Version    int              `json:"version" yaml:"version"`
	ExportedAt time.Time        `json:"exportedAt" yaml:"exported_at"`
	OwnerID    string           `json:"ownerId" yaml:"owner_id"`
	Notes      []*domain.Note   `json:"notes" yaml:"-"`
	Folders    []*domain.Folder `json:"folders" yaml:"folders"`
	Tags       []*domain.Tag    `json:"tags" yaml:"tags"`
}

type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

func (s *Service) ExportAllData(ctx context.Context, ownerID string) (*Export, error) {
	notes, err := s.GetNotes(ctx, ownerID, domain.Filters{})
	if err != nil {
		return nil, err
	}
	folders, err := s.GetFolders(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	tags, err := s.GetTags(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &Export{
		Version:    ExportVersion,
		ExportedAt: s.now(),
		OwnerID:    ownerID,
		Notes:      notes,
		Folders:    folders,
		Tags:       tags,
	}, nil
}

// ImportData recreates the exported notes under ownerID, keeping their ids.
// Notes that already exist are skipped.
func (s *Service) ImportData(ctx context.Context, data *Export, ownerID string) (*ImportResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if data.Version > ExportVersion {
		return nil, domain.Validationf("unsupported export version %d", data.Version)
	}
	for _, f := range data.Folders {
		if _, err := s.EnsureFolder(ctx, domain.NormalizeFolderPath(f.Path), ownerID); err != nil {
			return nil, err
		}
	}

	res := &ImportResult{}
	// Exports list newest first; recreate oldest first so updatedAt order
	// survives on backends that stamp writes.
	for i := len(data.Notes) - 1; i >= 0; i-- {
		n := data.Notes[i]
		_, err := s.CreateNote(ctx, InputFrom(n), ownerID)
		if errors.Is(err, domain.ErrAlreadyExists) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to import note %s: %w", n.ID, err)
		}
		res.Created++
	}
	return res, nil
}
