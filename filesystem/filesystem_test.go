// filesystem/filesystem_test.go
package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/notes"
	"github.com/ViniZap4/thesis-notes/store/memory"
)

func TestWriteReadNote(t *testing.T) {
	path := filepath.Join(t.TempDir(), "n1.md")
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	note := &domain.Note{
		ID:              "n1",
		Title:           "Chapter One",
		Content:         json.RawMessage(`{"type":"doc","content":[{"text":"Hello World"}]}`),
		HTMLContent:     "<p>Hello World</p>",
		MarkdownContent: "Hello World\n\n---\n\nafter a rule",
		FolderPath:      "/Thesis/Drafts",
		Tags:            []string{"draft", "ch1"},
		OwnerID:         "u1",
		Type:            domain.NoteStandalone,
		CreatedAt:       created,
		UpdatedAt:       created.Add(time.Hour),
	}

	require.NoError(t, WriteNote(path, note))
	got, err := ReadNote(path)
	require.NoError(t, err)

	assert.Equal(t, "n1", got.ID)
	assert.Equal(t, "Chapter One", got.Title)
	assert.JSONEq(t, string(note.Content), string(got.Content))
	assert.Equal(t, note.HTMLContent, got.HTMLContent)
	assert.Equal(t, note.MarkdownContent, got.MarkdownContent)
	assert.Equal(t, note.Tags, got.Tags)
	assert.Equal(t, "/Thesis/Drafts", got.FolderPath)
	assert.True(t, got.UpdatedAt.Equal(note.UpdatedAt))
	assert.Equal(t, "chapter one hello world", got.SearchableText)
	assert.Equal(t, 2, got.WordCount)
}

func TestReadNoteRejectsMissingFrontmatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.md")
	require.NoError(t, os.WriteFile(path, []byte("# just markdown\n"), 0644))

	_, err := ReadNote(path)
	assert.Error(t, err)
}

func TestFolderDirRejectsEscapes(t *testing.T) {
	_, err := FolderDir("/tmp/export", "/../../etc")
	assert.Error(t, err)

	dir, err := FolderDir("/tmp/export", "/Thesis/Drafts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/export", "Thesis", "Drafts"), dir)
}

func TestWriteExportRejectsNoteIDsThatEscape(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "out", "export")
	exp := &notes.Export{Notes: []*domain.Note{{ID: "../../escaped", Title: "x", FolderPath: "/General"}}}

	err := WriteExport(dir, exp)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(base, "out", "escaped.md"))
	assert.NoFileExists(t, filepath.Join(base, "escaped.md"))

	_, err = NoteFile(dir, `a\b`)
	assert.Error(t, err)
	file, err := NoteFile(dir, "note-1")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "note-1.md"), file)
}

func TestExportDirectoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := notes.NewService(memory.New())
	_, err := src.CreateNote(ctx, notes.NoteInput{Title: "Intro", MarkdownContent: "intro text", FolderPath: "/Thesis", Tags: []string{"a"}}, "u1")
	require.NoError(t, err)
	_, err = src.CreateNote(ctx, notes.NoteInput{Title: "Methods", MarkdownContent: "methods text", FolderPath: "/Thesis/Chapters"}, "u1")
	require.NoError(t, err)
	_, err = src.CreateFolder(ctx, "Empty", "/", "u1")
	require.NoError(t, err)

	exp, err := src.ExportAllData(ctx, "u1")
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteExport(dir, exp))
	assert.FileExists(t, filepath.Join(dir, ManifestName))
	assert.DirExists(t, filepath.Join(dir, "Empty"))

	folders, err := ListFolders(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/Empty", "/Thesis", "/Thesis/Chapters"}, folders)

	back, err := ReadExport(dir)
	require.NoError(t, err)
	assert.Equal(t, notes.ExportVersion, back.Version)
	assert.Equal(t, "u1", back.OwnerID)
	require.Len(t, back.Notes, 2)
	assert.Len(t, back.Folders, len(exp.Folders))
	assert.Len(t, back.Tags, 1)

	dst := notes.NewService(memory.New())
	res, err := dst.ImportData(ctx, back, "u2")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	imported, err := dst.GetNotes(ctx, "u2", domain.Filters{Search: "methods"})
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.Equal(t, "/Thesis/Chapters", imported[0].FolderPath)
	assert.Equal(t, "methods text", imported[0].MarkdownContent)
}
