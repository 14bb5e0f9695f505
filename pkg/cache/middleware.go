package cache

import (
	"bytes"
	"net/http"
)

// captureWriter records the status code and body written by a handler.
type captureWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

func (w *captureWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.statusCode = http.StatusOK
		w.written = true
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches successful GET responses in c, keyed by request URI.
// Hits are served with X-Cache: HIT, misses carry X-Cache: MISS. Requests
// sending Cache-Control: no-cache skip the lookup but still refresh the
// entry. Only 200 application/json responses are stored, and only when no
// invalidation ran while the handler was rendering them.
func Middleware(c *LRUCache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c == nil || r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()

			if r.Header.Get("Cache-Control") != "no-cache" {
				if cached, ok := c.Get(key); ok {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("X-Cache", "HIT")
					w.WriteHeader(http.StatusOK)
					_, _ = w.Write(cached)
					return
				}
			}

			gen := c.Generation()
			cw := &captureWriter{ResponseWriter: w}
			cw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(cw, r)

			if cw.statusCode == http.StatusOK && cw.Header().Get("Content-Type") == "application/json" {
				c.SetIfGeneration(key, bytes.Clone(cw.body.Bytes()), gen)
			}
		})
	}
}
