// http/server_test.go
package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	stdhttp "net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/mirror"
	"github.com/ViniZap4/thesis-notes/notes"
	"github.com/ViniZap4/thesis-notes/realtime"
	"github.com/ViniZap4/thesis-notes/store/memory"
)

type fixture struct {
	app   *fiber.App
	store *memory.Store
	svc   *notes.Service
	sync  *realtime.Controller
	local *mirror.Local
}

func newFixture(t *testing.T, users *auth.Users) *fixture {
	t.Helper()
	st := memory.New()
	svc := notes.NewService(st)
	db := mirror.NewDB(filepath.Join(t.TempDir(), "mirror.db"), zerolog.Nop())
	t.Cleanup(func() { db.Close() })
	local := mirror.NewLocal(db)
	ctrl := realtime.New(st, realtime.Options{BaseDelay: time.Millisecond})
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	srv := NewServer(Deps{
		Notes:        svc,
		Mirror:       mirror.NewNoteMirror(svc, local, zerolog.Nop()),
		Associations: mirror.NewAssociations(local, st),
		Sync:         ctrl,
		Users:        users,
		KeepAlive:    20 * time.Millisecond,
	})
	return &fixture{app: srv.App(), store: st, svc: svc, sync: ctrl, local: local}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(auth.HeaderToken, token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func twoUsers(t *testing.T) *auth.Users {
	t.Helper()
	hash := func(token string) string {
		h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
		require.NoError(t, err)
		return string(h)
	}
	return auth.NewUsers(
		auth.User{UID: "alice", TokenHash: hash("alice-token")},
		auth.User{UID: "bob", TokenHash: hash("bob-token")},
	)
}

func TestHealthNeedsNoToken(t *testing.T) {
	f := newFixture(t, nil)
	code, body := f.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, fiber.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	code, _ = f.do(t, "GET", "/api/notes", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, code)
}

func TestNoteLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, "POST", "/api/notes", auth.DevToken, notes.NoteInput{
		Title: "Methods", MarkdownContent: "sampling design", FolderPath: "/Thesis", Tags: []string{"ch2"},
	})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	created := decode[domain.Note](t, body)
	assert.Equal(t, auth.DevUID, created.OwnerID)
	assert.Equal(t, "/Thesis", created.FolderPath)

	code, body = f.do(t, "GET", "/api/notes?tags=ch2&search=sampling", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, decode[[]domain.Note](t, body), 1)

	code, body = f.do(t, "GET", "/api/notes?tags=missing", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, decode[[]domain.Note](t, body))

	title := "Methods and Data"
	code, body = f.do(t, "PUT", "/api/notes/"+created.ID, auth.DevToken, notes.NoteUpdate{Title: &title})
	require.Equal(t, fiber.StatusOK, code, string(body))
	assert.Equal(t, title, decode[domain.Note](t, body).Title)

	code, body = f.do(t, "GET", "/api/notes/"+created.ID, auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, title, decode[domain.Note](t, body).Title)

	code, _ = f.do(t, "DELETE", "/api/notes/"+created.ID, auth.DevToken, nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, body = f.do(t, "GET", "/api/notes/"+created.ID, auth.DevToken, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Contains(t, string(body), "not found")
}

func TestWritesGoThroughTheMirror(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	code, body := f.do(t, "POST", "/api/notes", auth.DevToken, notes.NoteInput{Title: "Offline", FolderPath: "/General"})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	id := decode[domain.Note](t, body).ID

	local, err := f.local.GetNote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Offline", local.Title)

	code, body = f.do(t, "GET", "/api/notes/offline?folderPath=/General", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, decode[[]domain.Note](t, body), 1)

	_, err = f.svc.CreateNote(ctx, notes.NoteInput{Title: "Remote only"}, auth.DevUID)
	require.NoError(t, err)
	code, _ = f.do(t, "POST", "/api/mirror/resync", auth.DevToken, nil)
	require.Equal(t, fiber.StatusNoContent, code)

	all, err := f.local.ListNotes(ctx, auth.DevUID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// After a resync the mirror keeps following remote writes.
	assert.Equal(t, 1, f.sync.Active())
	_, err = f.svc.CreateNote(ctx, notes.NoteInput{Title: "Later"}, auth.DevUID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		all, err := f.local.ListNotes(ctx, auth.DevUID)
		return err == nil && len(all) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, twoUsers(t))

	code, _ := f.do(t, "POST", "/api/notes", "alice-token", notes.NoteInput{Title: "x", Type: "bogus"})
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, _ = f.do(t, "GET", "/api/notes?from=yesterday", "alice-token", nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body := f.do(t, "POST", "/api/notes", "alice-token", notes.NoteInput{Title: "Private"})
	require.Equal(t, fiber.StatusCreated, code)
	id := decode[domain.Note](t, body).ID

	code, _ = f.do(t, "GET", "/api/notes/"+id, "bob-token", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, _ = f.do(t, "POST", "/api/notes", "alice-token", notes.NoteInput{ID: id, Title: "Again"})
	assert.Equal(t, fiber.StatusConflict, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.Validationf("bad"), fiber.StatusBadRequest},
		{domain.ErrUnauthorized, fiber.StatusForbidden},
		{fmt.Errorf("get: %w", domain.ErrNotFound), fiber.StatusNotFound},
		{domain.ErrAlreadyExists, fiber.StatusConflict},
		{&mirror.StepError{Step: "local create", Err: domain.ErrStorageExhausted}, fiber.StatusInsufficientStorage},
		{fiber.NewError(fiber.StatusTeapot, "tea"), fiber.StatusTeapot},
		{realtime.ErrNotStarted, fiber.StatusServiceUnavailable},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestStorageExhaustedShowsUserMessage(t *testing.T) {
	srv := NewServer(Deps{Notes: notes.NewService(memory.New())})
	app := srv.App()
	app.Get("/full", func(c *fiber.Ctx) error {
		return fmt.Errorf("save: %w", domain.ErrStorageExhausted)
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/full", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, fiber.StatusInsufficientStorage, resp.StatusCode)
	assert.Equal(t, domain.StorageExhaustedMessage, decode[map[string]string](t, body)["error"])

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestFoldersAndTags(t *testing.T) {
	f := newFixture(t, nil)

	code, body := f.do(t, "POST", "/api/folders", auth.DevToken, createFolderRequest{Name: "Thesis", ParentPath: "/"})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	code, body = f.do(t, "POST", "/api/folders", auth.DevToken, createFolderRequest{Name: "Drafts", ParentPath: "/Thesis"})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	assert.Equal(t, "/Thesis/Drafts", decode[domain.Folder](t, body).Path)

	code, body = f.do(t, "POST", "/api/notes", auth.DevToken, notes.NoteInput{Title: "Draft", FolderPath: "/Thesis/Drafts", Tags: []string{"wip"}})
	require.Equal(t, fiber.StatusCreated, code, string(body))

	code, body = f.do(t, "GET", "/api/folders", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code)
	var paths []string
	for _, folder := range decode[[]domain.Folder](t, body) {
		paths = append(paths, folder.Path)
	}
	assert.Contains(t, paths, "/Thesis/Drafts")

	code, _ = f.do(t, "DELETE", "/api/folders", auth.DevToken, nil)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code, body = f.do(t, "DELETE", "/api/folders?path=/Thesis", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	del := decode[notes.FolderDeletion](t, body)
	assert.ElementsMatch(t, []string{"/Thesis", "/Thesis/Drafts"}, del.DeletedFolders)
	assert.Equal(t, 1, del.MovedNotes)
	assert.Equal(t, domain.DefaultFolder, del.MovedTo)

	code, body = f.do(t, "POST", "/api/tags", auth.DevToken, createTagsRequest{Names: []string{"review"}})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	assert.Len(t, decode[[]domain.Tag](t, body), 2)

	code, body = f.do(t, "DELETE", "/api/tags/wip", auth.DevToken, nil)
	require.Equal(t, fiber.StatusOK, code, string(body))
	assert.EqualValues(t, 1, decode[map[string]any](t, body)["notesUpdated"])

	code, _ = f.do(t, "DELETE", "/api/tags/wip", auth.DevToken, nil)
	assert.Equal(t, fiber.StatusNotFound, code)
}

func TestAssociationRoutes(t *testing.T) {
	f := newFixture(t, twoUsers(t))

	code, body := f.do(t, "POST", "/api/associations", "alice-token", associationRequest{NoteID: "n1", PDFID: "p1", Metadata: map[string]any{"page": 3}})
	require.Equal(t, fiber.StatusCreated, code, string(body))
	a := decode[domain.Association](t, body)
	assert.Equal(t, "alice", a.UserID)

	code, _ = f.do(t, "POST", "/api/associations", "alice-token", associationRequest{NoteID: "n1", PDFID: "p2"})
	assert.Equal(t, fiber.StatusConflict, code)

	code, body = f.do(t, "GET", "/api/notes/n1/association", "alice-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, a.ID, decode[domain.Association](t, body).ID)

	code, _ = f.do(t, "GET", "/api/associations/"+a.ID, "bob-token", nil)
	assert.Equal(t, fiber.StatusNotFound, code)

	code, body = f.do(t, "GET", "/api/pdfs/p1/associations", "bob-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, decode[[]domain.Association](t, body))

	code, body = f.do(t, "PUT", "/api/associations/"+a.ID, "alice-token", associationRequest{Metadata: map[string]any{"page": nil, "label": "fig 2"}})
	require.Equal(t, fiber.StatusOK, code, string(body))
	assert.Equal(t, map[string]any{"label": "fig 2"}, decode[domain.Association](t, body).Metadata)

	code, _ = f.do(t, "DELETE", "/api/associations/"+a.ID, "bob-token", nil)
	assert.Equal(t, fiber.StatusForbidden, code)

	code, body = f.do(t, "POST", "/api/associations/sync", "alice-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.EqualValues(t, 1, decode[map[string]any](t, body)["synced"])

	code, _ = f.do(t, "DELETE", "/api/associations/"+a.ID, "alice-token", nil)
	assert.Equal(t, fiber.StatusNoContent, code)

	code, body = f.do(t, "GET", "/api/pdfs/p1/associations", "alice-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Empty(t, decode[[]domain.Association](t, body))
}

func TestExportImportAndStats(t *testing.T) {
	f := newFixture(t, twoUsers(t))

	for _, title := range []string{"One", "Two"} {
		code, body := f.do(t, "POST", "/api/notes", "alice-token", notes.NoteInput{Title: title, MarkdownContent: "three short words"})
		require.Equal(t, fiber.StatusCreated, code, string(body))
	}

	code, body := f.do(t, "GET", "/api/stats", "alice-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	st := decode[notes.Stats](t, body)
	assert.Equal(t, 2, st.TotalNotes)

	code, body = f.do(t, "GET", "/api/export", "alice-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	exp := decode[notes.Export](t, body)
	require.Len(t, exp.Notes, 2)

	// Ids are kept, so importing into the same store skips every note.
	code, body = f.do(t, "POST", "/api/import", "bob-token", exp)
	require.Equal(t, fiber.StatusOK, code, string(body))
	assert.Equal(t, 2, decode[notes.ImportResult](t, body).Skipped)

	fresh := newFixture(t, twoUsers(t))
	code, body = fresh.do(t, "POST", "/api/import", "bob-token", exp)
	require.Equal(t, fiber.StatusOK, code, string(body))
	assert.Equal(t, 2, decode[notes.ImportResult](t, body).Created)

	code, body = fresh.do(t, "GET", "/api/notes", "bob-token", nil)
	require.Equal(t, fiber.StatusOK, code)
	assert.Len(t, decode[[]domain.Note](t, body), 2)
}

func TestStreamSendsSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CreateNote(context.Background(), notes.NoteInput{Title: "Live", FolderPath: "/Thesis"}, auth.DevUID)
	require.NoError(t, err)
	_, err = f.svc.CreateNote(context.Background(), notes.NoteInput{Title: "Elsewhere", FolderPath: "/Other"}, auth.DevUID)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.app.Listener(ln)
	t.Cleanup(func() { f.app.ShutdownWithTimeout(time.Second) })

	req, err := stdhttp.NewRequest("GET", "http://"+ln.Addr().String()+"/api/notes/stream?folderPath=/Thesis", nil)
	require.NoError(t, err)
	req.Header.Set(auth.HeaderToken, auth.DevToken)
	resp, err := stdhttp.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, "text/event-stream", resp.Header.Get(fiber.HeaderContentType))

	reader := bufio.NewReader(resp.Body)
	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}
	ev := decode[streamEvent](t, []byte(data))
	assert.Equal(t, realtime.SourceLive, ev.Source)
	require.Len(t, ev.Notes, 1)
	assert.Equal(t, "Live", ev.Notes[0].Title)
	assert.Equal(t, 1, f.sync.Active())

	resp.Body.Close()
	assert.Eventually(t, func() bool { return f.sync.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return f.store.ListenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
