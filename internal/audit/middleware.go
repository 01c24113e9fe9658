package audit

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/keystone-api/keystone/internal/shared"
)

// RequestLogger records one audit event per mutating request, after the
// response is written. Recording is a non-blocking channel send, so the
// middleware adds no latency to the request path.
func RequestLogger(recorder *Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			event := Event{
				Level:      LevelInfo,
				Action:     methodAction(r.Method),
				Entity:     "http",
				ActorIP:    shared.ClientIP(r),
				ActorAgent: r.UserAgent(),
				Message:    r.Method + " " + r.URL.Path,
				Meta: map[string]any{
					"path":   r.URL.Path,
					"status": ww.Status(),
				},
			}
			if ww.Status() >= http.StatusInternalServerError {
				event.Level = LevelError
			}
			if actor := shared.ActorFromContext(r.Context()); actor != nil {
				event.ActorID = actor.ID
			}
			recorder.Record(event)
		})
	}
}

func methodAction(method string) string {
	switch method {
	case http.MethodPost:
		return ActionCreate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionUpdate
	}
}
