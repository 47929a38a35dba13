// sw/strategies.go
package sw

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ViniZap4/thesis-notes/auth"
)

// DefaultIdentityHeaders are the request headers that tell users apart.
var DefaultIdentityHeaders = []string{auth.HeaderToken, "Authorization", "Cookie"}

// ImageCache is the named cache that holds images.
const ImageCache = "images"

type route int

const (
	routePassthrough route = iota
	routeStatic
	routeImage
	routeAPI
	routeNavigation
	routeDefault
)

func (r route) String() string {
	switch r {
	case routeStatic:
		return "static"
	case routeImage:
		return "image"
	case routeAPI:
		return "api"
	case routeNavigation:
		return "navigation"
	case routeDefault:
		return "default"
	default:
		return "passthrough"
	}
}

func (e *Engine) classify(req *http.Request) route {
	// Browser extension schemes such as chrome-extension fall out here.
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return routePassthrough
	}
	if req.Method != http.MethodGet {
		return routePassthrough
	}
	if e.isStatic(req) {
		return routeStatic
	}
	if e.opts.ImagePattern.MatchString(req.URL.Path) || strings.HasPrefix(req.Header.Get("Accept"), "image/") {
		return routeImage
	}
	if e.opts.APIPattern.MatchString(req.URL.Path) {
		return routeAPI
	}
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" || strings.Contains(req.Header.Get("Accept"), "text/html") {
		return routeNavigation
	}
	return routeDefault
}

func (e *Engine) isStatic(req *http.Request) bool {
	if _, ok := e.staticKeys[req.URL.String()]; ok {
		return true
	}
	_, ok := e.staticPaths[req.URL.Path]
	return ok
}

// RoundTrip serves req with the strategy of its class. A panic while
// serving is recovered into the class fallback.
func (e *Engine) RoundTrip(req *http.Request) (resp *http.Response, err error) {
	r := e.classify(req)
	if r == routePassthrough {
		return e.transport.RoundTrip(req)
	}

	defer func() {
		if p := recover(); p != nil {
			e.log.Error().Interface("panic", p).Str("url", req.URL.String()).Str("route", r.String()).Msg("Request interception panicked")
			if r == routeImage {
				resp, err = placeholderImage(req), nil
			} else {
				resp, err = offlineDocument(req), nil
			}
		}
	}()

	switch r {
	case routeStatic:
		return e.cacheFirst(req, e.CacheName(staticPrefix), req.URL.String(), nil)
	case routeImage:
		return e.cacheFirst(req, e.CacheName(ImageCache), e.cacheKey(req), placeholderImage)
	case routeAPI:
		return e.networkFirst(req, e.CacheName(runtimePrefix), e.cacheKey(req), nil)
	case routeNavigation:
		return e.networkFirst(req, e.CacheName(runtimePrefix), e.cacheKey(req), offlineDocument)
	default:
		return e.networkFirst(req, e.CacheName(runtimePrefix), e.cacheKey(req), nil)
	}
}

// cacheKey is the URL, suffixed with a digest of the identity headers when
// the request carries any. Static assets are shared and keyed by URL alone.
func (e *Engine) cacheKey(req *http.Request) string {
	key := req.URL.String()
	h := sha256.New()
	found := false
	for _, name := range e.opts.IdentityHeaders {
		v := req.Header.Values(name)
		if len(v) == 0 {
			continue
		}
		found = true
		io.WriteString(h, strings.ToLower(name))
		h.Write([]byte{0})
		io.WriteString(h, strings.Join(v, "\x00"))
		h.Write([]byte{0})
	}
	if !found {
		return key
	}
	return key + "#" + hex.EncodeToString(h.Sum(nil))
}

// cacheFirst answers from the cache when it can. Otherwise it fetches; a 200
// answer is stored, and a failed fetch yields fallback when one is set.
func (e *Engine) cacheFirst(req *http.Request, cacheName, key string, fallback func(*http.Request) *http.Response) (*http.Response, error) {
	cache := e.storage.Open(cacheName)
	if cached, ok := cache.Match(key); ok {
		e.log.Debug().Str("url", key).Str("cache", cacheName).Msg("Cache hit")
		return cached.Response(req), nil
	}

	resp, err := e.fetch(req, cache, key)
	if err != nil {
		if fallback != nil {
			e.log.Debug().Err(err).Str("url", key).Msg("Fetch failed, serving fallback")
			return fallback(req), nil
		}
		return nil, err
	}
	return resp, nil
}

// networkFirst fetches first and stores a 200 answer. When the fetch fails
// it answers from the cache, then from fallback, then with the fetch error.
func (e *Engine) networkFirst(req *http.Request, cacheName, key string, fallback func(*http.Request) *http.Response) (*http.Response, error) {
	cache := e.storage.Open(cacheName)

	resp, err := e.fetch(req, cache, key)
	if err == nil {
		return resp, nil
	}
	if cached, ok := cache.Match(key); ok {
		e.log.Debug().Err(err).Str("url", key).Msg("Network failed, serving cached response")
		return cached.Response(req), nil
	}
	if fallback != nil {
		e.log.Debug().Err(err).Str("url", key).Msg("Network failed, serving fallback")
		return fallback(req), nil
	}
	return nil, err
}

// fetch performs the network request. A 200 answer is buffered and stored
// in the background, the caller gets its own copy of the body.
func (e *Engine) fetch(req *http.Request, cache Cache, key string) (*http.Response, error) {
	resp, err := e.transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	cached, out, err := buffer(resp)
	if err != nil {
		return nil, err
	}
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		cache.Put(key, cached)
	}()
	return out, nil
}

// buffer reads the whole body, closing the original, and returns a cache
// entry plus a replacement response that still carries a readable body.
func buffer(resp *http.Response) (*CachedResponse, *http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, nil, err
	}
	cached := &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return cached, resp, nil
}
