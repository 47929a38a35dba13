// sw/engine.go
package sw

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	staticPrefix  = "static"
	runtimePrefix = "runtime"
)

var (
	DefaultImagePattern = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|webp|avif|ico)$`)
	DefaultAPIPattern   = regexp.MustCompile(`^/api/`)
)

// Clients is the set of pages controlled by the engine.
type Clients interface {
	Claim(ctx context.Context) error
}

// BackgroundSync runs deferred work for a sync tag.
type BackgroundSync func(ctx context.Context, tag string) error

type Options struct {
	// Version is appended to every cache name; bumping it retires the old
	// caches on the next Activate.
	Version string
	// Origin resolves relative StaticAssets during Install.
	Origin       string
	StaticAssets []string
	ImagePattern *regexp.Regexp
	APIPattern   *regexp.Regexp
	// AppName titles push notifications.
	AppName string
	// IdentityHeaders partition the runtime and image caches per user;
	// nil means DefaultIdentityHeaders.
	IdentityHeaders []string
	Transport       http.RoundTripper
	Storage         Storage
	Notifier        Notifier
	Clients         Clients
	BackgroundSync  BackgroundSync
	Logger          zerolog.Logger
}

// Engine serves outbound requests of an offline-capable client using a
// caching strategy per request class. It implements http.RoundTripper.
type Engine struct {
	opts      Options
	log       zerolog.Logger
	transport http.RoundTripper
	storage   Storage
	origin    *url.URL

	staticKeys  map[string]struct{}
	staticPaths map[string]struct{}

	// pending tracks background cache writes.
	pending sync.WaitGroup

	mu          sync.Mutex
	skipWaiting bool
	installed   bool
	active      bool
}

var _ http.RoundTripper = (*Engine)(nil)

func New(opts Options) (*Engine, error) {
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("cache version is required")
	}
	if opts.ImagePattern == nil {
		opts.ImagePattern = DefaultImagePattern
	}
	if opts.APIPattern == nil {
		opts.APIPattern = DefaultAPIPattern
	}
	if opts.IdentityHeaders == nil {
		opts.IdentityHeaders = DefaultIdentityHeaders
	}
	if opts.AppName == "" {
		opts.AppName = "Thesis Notes"
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}

	e := &Engine{
		opts:        opts,
		log:         opts.Logger.With().Str("component", "sw").Str("version", opts.Version).Logger(),
		transport:   opts.Transport,
		storage:     opts.Storage,
		staticKeys:  make(map[string]struct{}),
		staticPaths: make(map[string]struct{}),
	}
	if opts.Origin != "" {
		u, err := url.Parse(opts.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin %q: %w", opts.Origin, err)
		}
		e.origin = u
	}
	for _, asset := range opts.StaticAssets {
		u, err := e.resolve(asset)
		if err != nil {
			return nil, err
		}
		e.staticKeys[u.String()] = struct{}{}
		e.staticPaths[u.Path] = struct{}{}
	}
	return e, nil
}

func (e *Engine) resolve(asset string) (*url.URL, error) {
	u, err := url.Parse(asset)
	if err != nil {
		return nil, fmt.Errorf("invalid static asset %q: %w", asset, err)
	}
	if e.origin != nil {
		u = e.origin.ResolveReference(u)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u, nil
}

// CacheName returns the versioned identifier of a named cache.
func (e *Engine) CacheName(name string) string {
	return name + "-" + e.opts.Version
}

func (e *Engine) Version() string { return e.opts.Version }

// Installed reports whether Install completed.
func (e *Engine) Installed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.installed
}

// SkipWaiting reports whether activation may proceed without waiting for
// old clients to close.
func (e *Engine) SkipWaiting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.skipWaiting
}

// Active reports whether the engine has activated and claimed its clients.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Install pre-populates the static cache. Every asset must answer 200, or
// the install fails and nothing is activated.
func (e *Engine) Install(ctx context.Context) error {
	cache := e.storage.Open(e.CacheName(staticPrefix))
	for _, asset := range e.opts.StaticAssets {
		u, err := e.resolve(asset)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := e.transport.RoundTrip(req)
		if err != nil {
			return fmt.Errorf("failed to fetch static asset %s: %w", u, err)
		}
		cached, _, err := buffer(resp)
		if err != nil {
			return fmt.Errorf("failed to read static asset %s: %w", u, err)
		}
		if cached.StatusCode != http.StatusOK {
			return fmt.Errorf("static asset %s answered %d", u, cached.StatusCode)
		}
		cache.Put(u.String(), cached)
	}

	e.mu.Lock()
	e.installed = true
	e.skipWaiting = true
	e.mu.Unlock()
	e.log.Info().Int("assets", len(e.opts.StaticAssets)).Msg("Static assets cached")
	return nil
}

// Activate deletes every cache that does not belong to the current version
// and takes control of all clients.
func (e *Engine) Activate(ctx context.Context) error {
	keep := map[string]bool{
		e.CacheName(staticPrefix):  true,
		e.CacheName(runtimePrefix): true,
		e.CacheName(ImageCache):    true,
	}
	for _, name := range e.storage.Keys() {
		if keep[name] {
			continue
		}
		if e.storage.Delete(name) {
			e.log.Info().Str("cache", name).Msg("Old cache deleted")
		}
	}
	if e.opts.Clients != nil {
		if err := e.opts.Clients.Claim(ctx); err != nil {
			return fmt.Errorf("failed to claim clients: %w", err)
		}
	}

	e.mu.Lock()
	e.active = true
	e.mu.Unlock()
	e.log.Info().Msg("Cache engine activated")
	return nil
}

// Wait blocks until every background cache write has finished.
func (e *Engine) Wait() {
	e.pending.Wait()
}

// Sync runs the background sync hook for tag.
func (e *Engine) Sync(ctx context.Context, tag string) error {
	if e.opts.BackgroundSync == nil {
		e.log.Debug().Str("tag", tag).Msg("Background sync requested, nothing to do")
		return nil
	}
	if err := e.opts.BackgroundSync(ctx, tag); err != nil {
		e.log.Error().Err(err).Str("tag", tag).Msg("Background sync failed")
		return err
	}
	return nil
}
