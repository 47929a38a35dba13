// filesystem/parser.go
package filesystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ViniZap4/thesis-notes/domain"
)

var delimiter = []byte("---\n")

// frontmatter is everything of a note except its markdown body.
type frontmatter struct {
	domain.Note `yaml:",inline"`
	Content     string `yaml:"content,omitempty"`
	HTML        string `yaml:"html,omitempty"`
}

func ReadNote(path string) (*domain.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseNote(data)
}

func parseNote(data []byte) (*domain.Note, error) {
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(data, delimiter) {
		return nil, fmt.Errorf("invalid frontmatter format")
	}
	rest := data[len(delimiter):]
	end := bytes.Index(rest, append([]byte("\n"), delimiter...))
	if end < 0 {
		return nil, fmt.Errorf("invalid frontmatter format")
	}

	var fm frontmatter
	if err := yaml.Unmarshal(rest[:end+1], &fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	note := fm.Note
	if fm.Content != "" {
		if !json.Valid([]byte(fm.Content)) {
			return nil, fmt.Errorf("note %s has invalid rich content", note.ID)
		}
		note.Content = json.RawMessage(fm.Content)
	}
	note.HTMLContent = fm.HTML
	note.MarkdownContent = string(bytes.TrimSpace(rest[end+1+len(delimiter):]))
	if note.Tags == nil {
		note.Tags = []string{}
	}
	note.Derive()
	return &note, nil
}

func WriteNote(path string, note *domain.Note) error {
	var buf bytes.Buffer

	buf.Write(delimiter)

	fm := frontmatter{Note: *note, Content: string(note.Content), HTML: note.HTMLContent}
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&fm); err != nil {
		return fmt.Errorf("failed to encode frontmatter: %w", err)
	}
	encoder.Close()

	buf.WriteString("---\n\n")
	buf.WriteString(note.MarkdownContent)
	buf.WriteString("\n")

	return os.WriteFile(path, buf.Bytes(), 0644)
}

// ListNotes walks dir recursively and parses every markdown file.
func ListNotes(dir string) ([]*domain.Note, error) {
	var notes []*domain.Note
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".md") {
			return nil
		}
		note, err := ReadNote(path)
		if err != nil {
			return nil // Skip invalid notes
		}
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return notes, nil
}

// ListFolders returns the folder paths found under root, in walk order.
func ListFolders(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() || path == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		paths = append(paths, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
