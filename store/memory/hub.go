// store/memory/hub.go
package memory

import (
	"context"
	"sync"

	"github.com/ViniZap4/thesis-notes/store"
)

// listener is one attached snapshot listener. Change signals coalesce: a
// listener that is busy delivering sees at most one pending refresh.
type listener struct {
	ownerID string
	notify  chan struct{}
	errc    chan error
	cancel  context.CancelFunc
	once    sync.Once
}

type hub struct {
	mu        sync.RWMutex
	listeners map[*listener]bool
}

func newHub() *hub {
	return &hub{listeners: make(map[*listener]bool)}
}

func (h *hub) register(l *listener) {
	h.mu.Lock()
	h.listeners[l] = true
	h.mu.Unlock()
}

func (h *hub) unregister(l *listener) {
	h.mu.Lock()
	delete(h.listeners, l)
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

func (h *hub) changed(ownerID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		if l.ownerID != ownerID {
			continue
		}
		select {
		case l.notify <- struct{}{}:
		default:
		}
	}
}

func (h *hub) fail(ownerID string, err error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for l := range h.listeners {
		if l.ownerID != ownerID {
			continue
		}
		select {
		case l.errc <- err:
		default:
		}
	}
}

func (s *Store) Listen(ctx context.Context, q store.NoteQuery, onSnapshot store.SnapshotFunc, onError func(error)) (func(), error) {
	s.mu.Lock()
	if err := s.check(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(s.listenErrs) > 0 {
		err := s.listenErrs[0]
		s.listenErrs = s.listenErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		ownerID: q.OwnerID,
		notify:  make(chan struct{}, 1),
		errc:    make(chan error, 1),
		cancel:  cancel,
	}
	l.notify <- struct{}{}
	s.hub.register(l)

	detach := func() {
		l.once.Do(func() {
			cancel()
			s.hub.unregister(l)
		})
	}

	go func() {
		defer detach()
		for {
			select {
			case <-lctx.Done():
				return
			case err := <-l.errc:
				if onError != nil {
					onError(err)
				}
				return
			case <-l.notify:
				s.mu.RLock()
				snap := s.queryLocked(q)
				s.mu.RUnlock()
				if lctx.Err() != nil {
					return
				}
				onSnapshot(snap)
			}
		}
	}()

	return detach, nil
}
