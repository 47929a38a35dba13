// sw/handler.go
package sw

import (
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Handler serves incoming requests by replaying them against upstream
// through the engine, so the engine runs as a caching proxy.
func (e *Engine) Handler(upstream *url.URL) http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	proxy.Transport = e
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		e.log.Warn().Err(err).Str("url", r.URL.String()).Msg("Upstream unavailable")
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy
}
