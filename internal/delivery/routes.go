package delivery

import (
	"context"
	"net/http"
	"time"

	"github.com/Vovarama1992/go-utils/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
)

// RegisterRoutes wires every handler into the router. Generation routes
// are rate-limited because each miss costs a synthesis call.
func RegisterRoutes(
	r chi.Router,
	hAssemble *AssembleHandler,
	hStems *StemsHandler,
	hConsistency *ConsistencyHandler,
	hRotation *RotationHandler,
) {
	r.Use(
		requestID,
		httputil.RecoverMiddleware,
	)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// --- generation (synthesis-backed, rate-limited) ---
	r.Group(func(gr chi.Router) {
		gr.Use(httprate.LimitByIP(30, time.Minute))

		gr.Post("/assemble", hAssemble.Assemble)
		gr.Post("/stems", hStems.Generate)
		gr.Post("/stems/batch", hStems.GenerateBatch)
		gr.Post("/silence/{ms}", hStems.GenerateSilence)
	})

	// --- planning (pure, no synthesis) ---
	r.Post("/assemble/preview", hAssemble.Preview)
	r.Post("/resolve", hAssemble.Resolve)

	// --- cache ---
	r.Get("/cache", hStems.ListCache)
	r.Get("/cache/summary", hStems.CacheSummary)
	r.Delete("/cache/{id}", hStems.Invalidate)

	// --- consistency ---
	r.Get("/consistency/audit", hConsistency.Audit)
	r.Post("/consistency/repair", hConsistency.Repair)

	// --- rotation ---
	r.Get("/rotation/next", hRotation.NextPair)
	r.Get("/rotation/stats", hRotation.Stats)
	r.Post("/rotation/reset", hRotation.Reset)
}

// requestID tags every request so log lines from one job correlate.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

// RequestID extracts the request id set by the middleware, or "".
func RequestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
