// domain/filters.go
package domain

import (
	"strings"
	"time"
)

// Filters narrows a note listing. Zero-valued fields do not filter.
type Filters struct {
	Tags       []string   `json:"tags,omitempty"`
	Search     string     `json:"search,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	FolderPath string     `json:"folderPath,omitempty"`
	FileID     string     `json:"fileId,omitempty"`
	Type       NoteType   `json:"type,omitempty"`
	Category   string     `json:"category,omitempty"`
}

func (f Filters) Validate() error {
	if f.FolderPath != "" {
		if err := ValidateFolderPath(f.FolderPath); err != nil {
			return err
		}
	}
	switch f.Type {
	case "", NoteStandalone, NoteFileAssociated:
	default:
		return Validationf("unknown note type %q", f.Type)
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return Validationf("date range start %s is after end %s", f.From.Format(time.RFC3339), f.To.Format(time.RFC3339))
	}
	return nil
}

// Match applies every criterion. Tags use AND semantics.
func (f Filters) Match(n *Note) bool {
	if f.FolderPath != "" && n.FolderPath != f.FolderPath {
		return false
	}
	if f.FileID != "" && n.FileID != f.FileID {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	return f.matchClientSide(n)
}

// matchClientSide applies only the criteria a document store query cannot
// express: category, text search, AND-tags and the date range.
func (f Filters) matchClientSide(n *Note) bool {
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	for _, t := range f.Tags {
		if !n.HasTag(t) {
			return false
		}
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" && !strings.Contains(n.SearchableText, q) {
		return false
	}
	if f.From != nil && n.UpdatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && n.UpdatedAt.After(*f.To) {
		return false
	}
	return true
}

func (f Filters) Apply(notes []*Note) []*Note {
	out := make([]*Note, 0, len(notes))
	for _, n := range notes {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out
}

func (f Filters) ApplyClientSide(notes []*Note) []*Note {
	out := make([]*Note, 0, len(notes))
	for _, n := range notes {
		if f.matchClientSide(n) {
			out = append(out, n)
		}
	}
	return out
}
