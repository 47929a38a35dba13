// filesystem/export.go
package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ViniZap4/thesis-notes/notes"
)

// ManifestName holds everything of an export except the notes.
const ManifestName = "_export.yaml"

// FolderDir maps a folder path onto a directory under root.
func FolderDir(root, folderPath string) (string, error) {
	segments := strings.Split(strings.Trim(folderPath, "/"), "/")
	for _, s := range segments {
		if s == "." || s == ".." {
			return "", fmt.Errorf("folder path %q escapes the export directory", folderPath)
		}
	}
	return filepath.Join(root, filepath.FromSlash(strings.Trim(folderPath, "/"))), nil
}

// NoteFile names the markdown file of a note inside folderDir. The id must
// be a plain file name.
func NoteFile(folderDir, id string) (string, error) {
	if id == "" || id != filepath.Base(id) || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("note id %q escapes the export directory", id)
	}
	return filepath.Join(folderDir, id+".md"), nil
}

// WriteExport lays an export out as one markdown file per note, nested in
// directories that mirror the folder tree.
func WriteExport(dir string, exp *notes.Export) error {
	for _, n := range exp.Notes {
		if _, err := NoteFile(dir, n.ID); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	manifest, err := yaml.Marshal(exp)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestName), manifest, 0644); err != nil {
		return err
	}

	for _, f := range exp.Folders {
		folderDir, err := FolderDir(dir, f.Path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(folderDir, 0755); err != nil {
			return err
		}
	}

	for _, n := range exp.Notes {
		folderDir, err := FolderDir(dir, n.FolderPath)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(folderDir, 0755); err != nil {
			return err
		}
		file, err := NoteFile(folderDir, n.ID)
		if err != nil {
			return err
		}
		if err := WriteNote(file, n); err != nil {
			return fmt.Errorf("failed to write note %s: %w", n.ID, err)
		}
	}
	return nil
}

// ReadExport loads a directory written by WriteExport. Notes come back
// most recently updated first.
func ReadExport(dir string) (*notes.Export, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	exp := &notes.Export{}
	if err := yaml.Unmarshal(data, exp); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	list, err := ListNotes(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	exp.Notes = list
	return exp, nil
}
