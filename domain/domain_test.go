package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFolderPath(t *testing.T) {
	cases := map[string]string{
		"":                DefaultFolder,
		"/":               DefaultFolder,
		"Research":        "/Research",
		"/Research/":      "/Research",
		"//Research//Sub": "/Research/Sub",
		" /A / B ":        "/A/B",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeFolderPath(in), "input %q", in)
	}
}

func TestFolderDerivedFields(t *testing.T) {
	root := NewFolder("f1", "/Research", "u1")
	assert.Equal(t, "Research", root.Name)
	assert.Equal(t, 0, root.Level)
	assert.Nil(t, root.ParentPath)

	sub := NewFolder("f2", "/Research/Sub/Deep", "u1")
	assert.Equal(t, 2, sub.Level)
	require.NotNil(t, sub.ParentPath)
	assert.Equal(t, "/Research/Sub", *sub.ParentPath)
}

func TestInSubtree(t *testing.T) {
	assert.True(t, InSubtree("/Research", "/Research"))
	assert.True(t, InSubtree("/Research/Sub", "/Research"))
	assert.True(t, InSubtree("/Research/Sub/Deep", "/Research"))
	assert.False(t, InSubtree("/ResearchOld", "/Research"))
	assert.False(t, InSubtree("/General", "/Research"))
}

func TestPlainTextAndDerive(t *testing.T) {
	doc := json.RawMessage(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello"},{"type":"text","text":"World"}]}]}`)
	assert.Equal(t, "Hello World", PlainText(doc))

	delta := json.RawMessage(`{"ops":[{"insert":"Gantt chart"},{"insert":"notes"}]}`)
	assert.Equal(t, "Gantt chart notes", PlainText(delta))

	assert.Equal(t, "just text", PlainText(json.RawMessage(`"just text"`)))
	assert.Equal(t, "", PlainText(nil))

	n := &Note{Title: "My Thesis", Content: doc}
	n.Derive()
	assert.Equal(t, "my thesis hello world", n.SearchableText)
	assert.Equal(t, 2, n.WordCount)
	assert.Equal(t, 11, n.CharacterCount)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{"x", "y"}, NormalizeTags([]string{" x", "", "y", "x"}))
}

func TestFiltersMatch(t *testing.T) {
	now := time.Now()
	n := &Note{
		FolderPath:     "/Research",
		Tags:           []string{"a", "b"},
		SearchableText: "chapter one draft",
		Type:           NoteStandalone,
		UpdatedAt:      now,
	}

	assert.True(t, Filters{}.Match(n))
	assert.True(t, Filters{Tags: []string{"a", "b"}}.Match(n))
	assert.False(t, Filters{Tags: []string{"a", "c"}}.Match(n))
	assert.True(t, Filters{Search: "ONE"}.Match(n))
	assert.False(t, Filters{Search: "two"}.Match(n))
	assert.False(t, Filters{FolderPath: "/General"}.Match(n))
	assert.False(t, Filters{Type: NoteFileAssociated}.Match(n))

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	assert.True(t, Filters{From: &past, To: &future}.Match(n))
	assert.False(t, Filters{From: &future}.Match(n))
}

func TestFiltersValidate(t *testing.T) {
	assert.NoError(t, Filters{FolderPath: "/A"}.Validate())
	assert.ErrorIs(t, Filters{FolderPath: "A"}.Validate(), ErrValidation)
	assert.ErrorIs(t, Filters{Type: "bogus"}.Validate(), ErrValidation)

	a, b := time.Now(), time.Now().Add(-time.Hour)
	assert.ErrorIs(t, Filters{From: &a, To: &b}.Validate(), ErrValidation)
}

func TestErrorCategories(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsTransient(TransientError(base)))
	assert.False(t, IsPermanent(TransientError(base)))
	assert.True(t, IsPermanent(PermanentError(base)))
	assert.True(t, IsPermanent(base))
	assert.ErrorIs(t, TransientError(base), base)
	assert.Nil(t, TransientError(nil))
}
