package observability

import (
	"net/http"
	"time"
)

// Recover turns a panic in next into a call to fallback so no panic crosses
// the HTTP boundary. A response already under way is left as it is.
func Recover(component string, next http.Handler, fallback http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tw := &writeTracker{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				RecordError("panic", component)
				logger := WithComponent(component)
				logger.Error().
					Interface("panic", p).
					Str("path", r.URL.Path).
					Bool("response_started", tw.wrote).
					Msg("Recovered from panic")
				if !tw.wrote {
					fallback(w, r)
				}
			}
		}()
		next.ServeHTTP(tw, r)
	})
}

// writeTracker notes whether a response has been started
type writeTracker struct {
	http.ResponseWriter
	wrote bool
}

func (t *writeTracker) WriteHeader(status int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(status)
}

func (t *writeTracker) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}

func (t *writeTracker) Unwrap() http.ResponseWriter { return t.ResponseWriter }

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// AccessLog logs one line per request. WebSocket upgrades are passed through
// untouched so the connection can be hijacked.
func AccessLog(next http.Handler) http.Handler {
	logger := WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
