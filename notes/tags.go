// notes/tags.go
package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/store"
)

// CreateTagsIfNotExist records one more use of every named tag, creating
// missing tags with a count of one.
func (s *Service) CreateTagsIfNotExist(ctx context.Context, names []string, ownerID string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	var errs []error
	for _, name := range domain.NormalizeTags(names) {
		if err := s.useTag(ctx, name, ownerID); err != nil {
			errs = append(errs, fmt.Errorf("tag %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) useTag(ctx context.Context, name, ownerID string) error {
	_, err := s.store.GetTag(ctx, ownerID, name)
	switch {
	case err == nil:
		return s.store.AdjustTagUsage(ctx, ownerID, name, 1)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	err = s.store.CreateTag(ctx, &domain.Tag{
		ID:         s.newID(),
		Name:       name,
		OwnerID:    ownerID,
		UsageCount: 1,
		CreatedAt:  s.now(),
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.store.AdjustTagUsage(ctx, ownerID, name, 1)
	}
	return err
}

func (s *Service) GetTags(ctx context.Context, ownerID string) ([]*domain.Tag, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	tags, err := s.store.ListTags(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	return tags, nil
}

// DeleteTag removes the tag and strips it from every note of the owner in
// one atomic batch. It returns the number of notes changed.
func (s *Service) DeleteTag(ctx context.Context, name, ownerID string) (int, error) {
	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	if _, err := s.store.GetTag(ctx, ownerID, name); err != nil {
		return 0, err
	}
	notes, err := s.store.ListNotes(ctx, store.NoteQuery{OwnerID: ownerID})
	if err != nil {
		return 0, fmt.Errorf("failed to list notes: %w", err)
	}

	batch := store.NewBatch().DeleteTag(ownerID, name)
	now := s.now()
	changed := 0
	for _, n := range notes {
		if !n.HasTag(name) {
			continue
		}
		kept := n.Tags[:0]
		for _, t := range n.Tags {
			if t != name {
				kept = append(kept, t)
			}
		}
		n.Tags = kept
		n.UpdatedAt = now
		batch.PutNote(n)
		changed++
	}

	if err := s.store.Commit(ctx, batch); err != nil {
		return 0, fmt.Errorf("failed to delete tag %s: %w", name, err)
	}
	return changed, nil
}
