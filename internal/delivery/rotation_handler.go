package delivery

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/rotation"
)

type RotationHandler struct {
	engine *rotation.Engine
}

func NewRotationHandler(engine *rotation.Engine) *RotationHandler {
	return &RotationHandler{engine: engine}
}

// GET /rotation/next
func (h *RotationHandler) NextPair(w http.ResponseWriter, r *http.Request) {
	pair, err := h.engine.NextPair()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        pair.Name != "" && pair.Developer != "",
		"name":      pair.Name,
		"developer": pair.Developer,
		"timestamp": pair.Timestamp,
	})
}

// GET /rotation/stats
func (h *RotationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Stats())
}

// POST /rotation/reset
func (h *RotationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category,omitempty"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errs.Validation("body", "invalid json: %v", err))
			return
		}
	}

	if err := h.engine.Reset(req.Category); err != nil {
		writeError(w, errs.Validation("category", "%v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"category": orBoth(req.Category),
	})
}

func orBoth(category string) string {
	if category == "" {
		return "both"
	}
	return category
}
