// http/notes.go
package http

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/notes"
)

// noteWriter is satisfied by notes.Service and by mirror.NoteMirror.
type noteWriter interface {
	CreateNote(ctx context.Context, in notes.NoteInput, ownerID string) (*domain.Note, error)
	UpdateNote(ctx context.Context, id string, upd notes.NoteUpdate, ownerID string) (*domain.Note, error)
	DeleteNote(ctx context.Context, id, ownerID string) error
}

func (s *Server) writer() noteWriter {
	if s.mirror != nil {
		return s.mirror
	}
	return s.notes
}

// filtersFromQuery reads tags, search, from, to, folderPath, fileId, type
// and category from the query string.
func filtersFromQuery(c *fiber.Ctx) (domain.Filters, error) {
	f := domain.Filters{
		Search:     c.Query("search"),
		FolderPath: c.Query("folderPath"),
		FileID:     c.Query("fileId"),
		Type:       domain.NoteType(c.Query("type")),
		Category:   c.Query("category"),
	}
	if raw := c.Query("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.Tags = append(f.Tags, t)
			}
		}
	}
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		raw := c.Query(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, domain.Validationf("%s must be an RFC3339 time", p.key)
		}
		*p.dst = &t
	}
	return f, nil
}

func (s *Server) HandleNotes(c *fiber.Ctx) error {
	f, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	list, err := s.notes.GetNotes(c.UserContext(), auth.UID(c), f)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

// HandleOfflineNotes answers from the local mirror only.
func (s *Server) HandleOfflineNotes(c *fiber.Ctx) error {
	if s.mirror == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "local mirror is disabled")
	}
	f, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	list, err := s.mirror.Offline(c.UserContext(), auth.UID(c), f)
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) HandleNotesByFile(c *fiber.Ctx) error {
	list, err := s.notes.GetNotesByFile(c.UserContext(), c.Params("fileId"), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(list)
}

func (s *Server) HandleGetNote(c *fiber.Ctx) error {
	note, err := s.notes.GetNote(c.UserContext(), c.Params("id"), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(note)
}

func (s *Server) HandleCreateNote(c *fiber.Ctx) error {
	var in notes.NoteInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(err)
	}
	note, err := s.writer().CreateNote(c.UserContext(), in, auth.UID(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(note)
}

func (s *Server) HandleUpdateNote(c *fiber.Ctx) error {
	var upd notes.NoteUpdate
	if err := c.BodyParser(&upd); err != nil {
		return badRequest(err)
	}
	note, err := s.writer().UpdateNote(c.UserContext(), c.Params("id"), upd, auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(note)
}

func (s *Server) HandleDeleteNote(c *fiber.Ctx) error {
	if err := s.writer().DeleteNote(c.UserContext(), c.Params("id"), auth.UID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) HandleStats(c *fiber.Ctx) error {
	st, err := s.notes.Stats(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) HandleExport(c *fiber.Ctx) error {
	exp, err := s.notes.ExportAllData(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="thesis-notes-export.json"`)
	return c.JSON(exp)
}

func (s *Server) HandleImport(c *fiber.Ctx) error {
	var exp notes.Export
	if err := c.BodyParser(&exp); err != nil {
		return badRequest(err)
	}
	res, err := s.notes.ImportData(c.UserContext(), &exp, auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// HandleResync rebuilds the local mirror of the caller from the remote store
// and keeps following remote changes while realtime sync runs.
func (s *Server) HandleResync(c *fiber.Ctx) error {
	if s.mirror == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "local mirror is disabled")
	}
	uid := auth.UID(c)
	if err := s.mirror.Resync(c.UserContext(), uid); err != nil {
		return err
	}
	if s.sync != nil {
		if err := s.mirror.Follow(uid, s.sync); err != nil {
			return err
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}
