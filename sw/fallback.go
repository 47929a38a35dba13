// sw/fallback.go
package sw

import (
	"net/http"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="200" height="150" viewBox="0 0 200 150">
  <rect width="200" height="150" fill="#f0f0f0"/>
  <text x="100" y="80" font-family="sans-serif" font-size="14" fill="#999" text-anchor="middle">Image unavailable</text>
</svg>`

const offlinePage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Offline</title>
  <style>
    body { font-family: sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #fafafa; color: #333; }
    main { text-align: center; padding: 2rem; }
    button { margin-top: 1rem; padding: 0.6rem 1.4rem; border: 0; border-radius: 4px; background: #2563eb; color: #fff; font-size: 1rem; cursor: pointer; }
  </style>
</head>
<body>
  <main>
    <h1>You are offline</h1>
    <p>This page is not available without a connection. Your saved notes are still on this device.</p>
    <button onclick="window.location.reload()">Try again</button>
  </main>
</body>
</html>`

func placeholderImage(req *http.Request) *http.Response {
	return (&CachedResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"image/svg+xml"}, "Cache-Control": {"no-store"}},
		Body:       []byte(placeholderSVG),
	}).Response(req)
}

func offlineDocument(req *http.Request) *http.Response {
	return (&CachedResponse{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}, "Cache-Control": {"no-store"}},
		Body:       []byte(offlinePage),
	}).Response(req)
}
