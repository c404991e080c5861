package delivery

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/domain"
	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/stem"
)

type StemsHandler struct {
	svc   *domain.StemsService
	index *cache.Index
}

func NewStemsHandler(svc *domain.StemsService, index *cache.Index) *StemsHandler {
	return &StemsHandler{svc: svc, index: index}
}

// POST /stems
func (h *StemsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
		Label    string `json:"label"`
		Text     string `json:"text,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "invalid json: %v", err))
		return
	}

	cat, err := stem.ParseCategory(req.Category)
	if err != nil {
		writeError(w, errs.Validation("category", "%v", err))
		return
	}
	if req.Label == "" {
		writeError(w, errs.Validation("label", "label is required"))
		return
	}

	entry, err := h.svc.EnsureStem(r.Context(), cat, req.Label, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// POST /stems/batch
func (h *StemsHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		// Identifier to spoken text. Silence identifiers need no text.
		Stems map[string]string `json:"stems"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "invalid json: %v", err))
		return
	}
	if len(req.Stems) == 0 {
		writeError(w, errs.Validation("stems", "at least one stem is required"))
		return
	}

	built, failed, err := h.svc.GenerateBatch(r.Context(), req.Stems)
	if err != nil {
		writeError(w, err)
		return
	}

	failures := map[string]string{}
	for id, ferr := range failed {
		failures[id] = ferr.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"built":  built,
		"failed": failures,
	})
}

// POST /silence/{ms}
func (h *StemsHandler) GenerateSilence(w http.ResponseWriter, r *http.Request) {
	ms, err := strconv.Atoi(chi.URLParam(r, "ms"))
	if err != nil {
		writeError(w, errs.Validation("duration", "duration must be an integer of milliseconds"))
		return
	}

	entry, err := h.svc.EnsureSilence(r.Context(), ms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// GET /cache
func (h *StemsHandler) ListCache(w http.ResponseWriter, r *http.Request) {
	f := cache.Filter{
		Prefix:       r.URL.Query().Get("prefix"),
		IncludeStale: r.URL.Query().Get("include_stale") == "true",
	}
	if raw := r.URL.Query().Get("category"); raw != "" {
		cat, err := stem.ParseCategory(raw)
		if err != nil {
			writeError(w, errs.Validation("category", "%v", err))
			return
		}
		f.Category = cat
	}
	writeJSON(w, http.StatusOK, h.index.ListDetailed(f))
}

// GET /cache/summary
func (h *StemsHandler) CacheSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.index.Summarize())
}

// DELETE /cache/{id}
func (h *StemsHandler) Invalidate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.index.Invalidate(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown identifier: " + id})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"invalidated": id})
}
