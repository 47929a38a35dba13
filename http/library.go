// http/library.go
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
)

func (s *Server) HandleFolders(c *fiber.Ctx) error {
	folders, err := s.notes.GetFolders(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(folders)
}

type createFolderRequest struct {
	Name       string `json:"name"`
	ParentPath string `json:"parentPath"`
}

func (s *Server) HandleCreateFolder(c *fiber.Ctx) error {
	var req createFolderRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	folder, err := s.notes.CreateFolder(c.UserContext(), req.Name, req.ParentPath, auth.UID(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(folder)
}

// HandleDeleteFolder deletes ?path= and its subtree, re-homing notes to
// ?moveTo= (the default folder when empty).
func (s *Server) HandleDeleteFolder(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return domain.Validationf("path is required")
	}
	res, err := s.notes.DeleteFolder(c.UserContext(), path, auth.UID(c), c.Query("moveTo", domain.DefaultFolder))
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) HandleTags(c *fiber.Ctx) error {
	tags, err := s.notes.GetTags(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(tags)
}

type createTagsRequest struct {
	Names []string `json:"names"`
}

func (s *Server) HandleCreateTags(c *fiber.Ctx) error {
	var req createTagsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	if err := s.notes.CreateTagsIfNotExist(c.UserContext(), req.Names, auth.UID(c)); err != nil {
		return err
	}
	tags, err := s.notes.GetTags(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(tags)
}

func (s *Server) HandleDeleteTag(c *fiber.Ctx) error {
	changed, err := s.notes.DeleteTag(c.UserContext(), c.Params("name"), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": c.Params("name"), "notesUpdated": changed})
}
