// http/associations.go
package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
)

type associationRequest struct {
	NoteID   string         `json:"noteId"`
	PDFID    string         `json:"pdfId"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) associations() error {
	if s.assocs == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "associations are disabled")
	}
	return nil
}

// owned hides associations of other users behind ErrNotFound.
func owned(a *domain.Association, uid string) (*domain.Association, error) {
	if a.UserID != uid {
		return nil, domain.ErrNotFound
	}
	return a, nil
}

func (s *Server) HandleCreateAssociation(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	var req associationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	a, err := s.assocs.Create(c.UserContext(), req.NoteID, req.PDFID, auth.UID(c), req.Metadata)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (s *Server) HandleGetAssociation(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	a, err := s.assocs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if a, err = owned(a, auth.UID(c)); err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) HandleNoteAssociation(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	a, err := s.assocs.GetByNoteID(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if a, err = owned(a, auth.UID(c)); err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) HandlePDFAssociations(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	list, err := s.assocs.GetByPDFID(c.UserContext(), c.Params("pdfId"))
	if err != nil {
		return err
	}
	uid := auth.UID(c)
	mine := make([]*domain.Association, 0, len(list))
	for _, a := range list {
		if a.UserID == uid {
			mine = append(mine, a)
		}
	}
	return c.JSON(mine)
}

func (s *Server) HandleUpdateAssociation(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	var req associationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(err)
	}
	a, err := s.assocs.Update(c.UserContext(), c.Params("id"), req.Metadata, auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) HandleDeleteAssociation(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	if err := s.assocs.Delete(c.UserContext(), c.Params("id"), auth.UID(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) HandleSyncAssociations(c *fiber.Ctx) error {
	if err := s.associations(); err != nil {
		return err
	}
	n, err := s.assocs.SyncWithRemote(c.UserContext(), auth.UID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"synced": n})
}
