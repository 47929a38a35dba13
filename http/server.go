// http/server.go
package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/mirror"
	"github.com/ViniZap4/thesis-notes/notes"
	"github.com/ViniZap4/thesis-notes/realtime"
)

type Deps struct {
	Notes        *notes.Service
	Mirror       *mirror.NoteMirror
	Associations *mirror.Associations
	Sync         *realtime.Controller
	Users        *auth.Users
	Logger       zerolog.Logger
	// KeepAlive is the SSE comment interval; zero means 15s.
	KeepAlive time.Duration
}

type Server struct {
	notes     *notes.Service
	mirror    *mirror.NoteMirror
	assocs    *mirror.Associations
	sync      *realtime.Controller
	users     *auth.Users
	log       zerolog.Logger
	keepAlive time.Duration
}

func NewServer(d Deps) *Server {
	if d.KeepAlive <= 0 {
		d.KeepAlive = 15 * time.Second
	}
	if d.Users == nil {
		d.Users = auth.NewUsers()
	}
	return &Server{
		notes:     d.Notes,
		mirror:    d.Mirror,
		assocs:    d.Associations,
		sync:      d.Sync,
		users:     d.Users,
		log:       d.Logger.With().Str("component", "http").Logger(),
		keepAlive: d.KeepAlive,
	}
}

// App builds the fiber application with every route mounted.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          s.handleError,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
		AllowHeaders: "Content-Type, " + auth.HeaderToken,
	}))
	app.Use(s.requestLogger)

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", auth.Middleware(s.users))

	api.Get("/notes", s.HandleNotes)
	api.Post("/notes", s.HandleCreateNote)
	api.Get("/notes/stream", s.HandleStream)
	api.Get("/notes/offline", s.HandleOfflineNotes)
	api.Get("/notes/:id", s.HandleGetNote)
	api.Put("/notes/:id", s.HandleUpdateNote)
	api.Delete("/notes/:id", s.HandleDeleteNote)
	api.Get("/notes/:id/association", s.HandleNoteAssociation)
	api.Get("/files/:fileId/notes", s.HandleNotesByFile)

	api.Get("/folders", s.HandleFolders)
	api.Post("/folders", s.HandleCreateFolder)
	api.Delete("/folders", s.HandleDeleteFolder)

	api.Get("/tags", s.HandleTags)
	api.Post("/tags", s.HandleCreateTags)
	api.Delete("/tags/:name", s.HandleDeleteTag)

	api.Post("/associations", s.HandleCreateAssociation)
	api.Post("/associations/sync", s.HandleSyncAssociations)
	api.Get("/associations/:id", s.HandleGetAssociation)
	api.Put("/associations/:id", s.HandleUpdateAssociation)
	api.Delete("/associations/:id", s.HandleDeleteAssociation)
	api.Get("/pdfs/:pdfId/associations", s.HandlePDFAssociations)

	api.Get("/export", s.HandleExport)
	api.Post("/import", s.HandleImport)
	api.Get("/stats", s.HandleStats)
	api.Post("/mirror/resync", s.HandleResync)

	return app
}

func (s *Server) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("Request handled")
	return err
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrStorageExhausted):
		return fiber.StatusInsufficientStorage
	case errors.Is(err, realtime.ErrNotStarted):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := StatusFor(err)
	msg := err.Error()
	switch code {
	case fiber.StatusInsufficientStorage:
		msg = domain.StorageExhaustedMessage
	case fiber.StatusInternalServerError:
		s.log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("Request failed")
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func badRequest(err error) error {
	return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
}
