// store/postgres/listen.go
package postgres

import (
	"context"
	"sync"

	"github.com/ViniZap4/thesis-notes/store"
)

// Listen holds a dedicated connection on LISTEN notes_changed. The trigger
// payload is the owner id; each matching notification re-runs the query and
// delivers the full result set.
func (s *Store) Listen(ctx context.Context, q store.NoteQuery, onSnapshot store.SnapshotFunc, onError func(error)) (func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notesChannel); err != nil {
		conn.Release()
		return nil, classify(err)
	}
	initial, err := s.ListNotes(ctx, q)
	if err != nil {
		conn.Release()
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	var once sync.Once
	detach := func() { once.Do(cancel) }

	go func() {
		// A connection interrupted mid-wait cannot go back to the pool.
		defer func() {
			c := conn.Hijack()
			_ = c.Close(context.Background())
		}()
		onSnapshot(initial)

		for {
			notification, err := conn.Conn().WaitForNotification(lctx)
			if err != nil {
				if lctx.Err() != nil {
					return
				}
				s.log.Warn().Err(err).Str("owner_id", q.OwnerID).Msg("Snapshot listener failed")
				if onError != nil {
					onError(classify(err))
				}
				return
			}
			if notification.Payload != q.OwnerID {
				continue
			}
			notes, err := s.ListNotes(lctx, q)
			if err != nil {
				if lctx.Err() != nil {
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onSnapshot(notes)
		}
	}()

	return detach, nil
}
