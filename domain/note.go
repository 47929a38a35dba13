// domain/note.go
package domain

import (
	"encoding/json"
	"time"
)

type NoteType string

const (
	NoteStandalone     NoteType = "standalone"
	NoteFileAssociated NoteType = "file-associated"
)

// DefaultFolder receives notes that were saved without a folder and notes
// re-homed out of a deleted folder.
const DefaultFolder = "/General"

type Note struct {
	ID              string          `json:"id" yaml:"id"`
	Title           string          `json:"title" yaml:"title"`
	Content         json.RawMessage `json:"content,omitempty" yaml:"-"`
	HTMLContent     string          `json:"htmlContent,omitempty" yaml:"-"`
	MarkdownContent string          `json:"markdownContent,omitempty" yaml:"-"`
	FolderPath      string          `json:"folderPath" yaml:"folder_path"`
	Tags            []string        `json:"tags" yaml:"tags"`
	FileID          string          `json:"fileId,omitempty" yaml:"file_id,omitempty"`
	FileName        string          `json:"fileName,omitempty" yaml:"file_name,omitempty"`
	FileType        string          `json:"fileType,omitempty" yaml:"file_type,omitempty"`
	OwnerID         string          `json:"ownerId" yaml:"owner_id"`
	Type            NoteType        `json:"type" yaml:"type"`
	Category        string          `json:"category,omitempty" yaml:"category,omitempty"`
	NoteType        string          `json:"noteType,omitempty" yaml:"note_type,omitempty"`
	CharacterCount  int             `json:"characterCount" yaml:"character_count"`
	WordCount       int             `json:"wordCount" yaml:"word_count"`
	CreatedAt       time.Time       `json:"createdAt" yaml:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" yaml:"updated_at"`
	SearchableText  string          `json:"searchableText" yaml:"-"`
}

// Derive recomputes every field that is a function of title and content.
func (n *Note) Derive() {
	plain := PlainText(n.Content)
	if plain == "" && n.MarkdownContent != "" {
		plain = n.MarkdownContent
	}
	n.SearchableText = SearchableText(n.Title, plain)
	n.CharacterCount = CharacterCount(plain)
	n.WordCount = WordCount(plain)
}

// HasTag reports whether the note carries the exact tag name.
func (n *Note) HasTag(name string) bool {
	for _, t := range n.Tags {
		if t == name {
			return true
		}
	}
	return false
}

func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Tags = append([]string(nil), n.Tags...)
	if n.Content != nil {
		c.Content = append(json.RawMessage(nil), n.Content...)
	}
	return &c
}

type Folder struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Path       string    `json:"path" yaml:"path"`
	Level      int       `json:"level" yaml:"level"`
	ParentPath *string   `json:"parentPath" yaml:"parent_path"`
	OwnerID    string    `json:"ownerId" yaml:"owner_id"`
	NotesCount int       `json:"notesCount" yaml:"notes_count"`
	CreatedAt  time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updated_at"`
}

func (f *Folder) Clone() *Folder {
	if f == nil {
		return nil
	}
	c := *f
	if f.ParentPath != nil {
		p := *f.ParentPath
		c.ParentPath = &p
	}
	return &c
}

type Tag struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	OwnerID    string    `json:"ownerId" yaml:"owner_id"`
	UsageCount int       `json:"usageCount" yaml:"usage_count"`
	CreatedAt  time.Time `json:"createdAt" yaml:"created_at"`
}

// Association links a note to a PDF. A note has at most one association,
// a PDF may have many.
type Association struct {
	ID           string         `json:"id"`
	NoteID       string         `json:"noteId"`
	PDFID        string         `json:"pdfId"`
	UserID       string         `json:"userId"`
	CreatedAt    time.Time      `json:"createdAt"`
	LastModified time.Time      `json:"lastModified"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (a *Association) Clone() *Association {
	if a == nil {
		return nil
	}
	c := *a
	if a.Metadata != nil {
		c.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
