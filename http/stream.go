// http/stream.go
package http

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/ViniZap4/thesis-notes/auth"
	"github.com/ViniZap4/thesis-notes/domain"
	"github.com/ViniZap4/thesis-notes/realtime"
)

type streamEvent struct {
	Source realtime.Source `json:"source"`
	At     time.Time       `json:"at"`
	Notes  []*domain.Note  `json:"notes"`
	Error  string          `json:"error,omitempty"`
}

// HandleStream serves filtered note snapshots as server-sent events until
// the client goes away or the controller stops.
func (s *Server) HandleStream(c *fiber.Ctx) error {
	if s.sync == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "realtime sync is disabled")
	}
	f, err := filtersFromQuery(c)
	if err != nil {
		return err
	}
	// The stream outlives the handler, so it cannot use the request context.
	sub, err := s.sync.Subscribe(context.Background(), auth.UID(c), f)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log := s.log.With().Str("subscription", sub.ID()).Logger()
	keepAlive := s.keepAlive
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()
		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		seq := 0
		for {
			select {
			case snap, ok := <-sub.C():
				if !ok {
					return
				}
				seq++
				if err := writeSnapshot(w, seq, snap); err != nil {
					log.Debug().Err(err).Msg("Stream client went away")
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": keepalive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					log.Debug().Err(err).Msg("Stream client went away")
					return
				}
			}
		}
	}))
	return nil
}

func writeSnapshot(w *bufio.Writer, seq int, snap realtime.Snapshot) error {
	ev := streamEvent{Source: snap.Source, At: snap.At, Notes: snap.Notes}
	if ev.Notes == nil {
		ev.Notes = []*domain.Note{}
	}
	if snap.Err != nil {
		ev.Error = snap.Err.Error()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: snapshot\nid: %d\ndata: %s\n\n", seq, data); err != nil {
		return err
	}
	return w.Flush()
}
