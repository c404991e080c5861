package delivery

import (
	"net/http"

	"github.com/hybridaudio/stemforge/internal/cache"
	"github.com/hybridaudio/stemforge/internal/domain"
	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/stem"
)

type ConsistencyHandler struct {
	svc *domain.ConsistencyService
}

func NewConsistencyHandler(svc *domain.ConsistencyService) *ConsistencyHandler {
	return &ConsistencyHandler{svc: svc}
}

// auditScope reads the optional category/prefix query parameters that
// narrow an audit or repair run.
func auditScope(r *http.Request) (cache.Filter, error) {
	scope := cache.Filter{Prefix: r.URL.Query().Get("prefix")}
	if raw := r.URL.Query().Get("category"); raw != "" {
		cat, err := stem.ParseCategory(raw)
		if err != nil {
			return cache.Filter{}, errs.Validation("category", "%v", err)
		}
		scope.Category = cat
	}
	return scope, nil
}

// GET /consistency/audit?category=&prefix=
func (h *ConsistencyHandler) Audit(w http.ResponseWriter, r *http.Request) {
	scope, err := auditScope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.svc.Audit(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /consistency/repair?category=&prefix=
func (h *ConsistencyHandler) Repair(w http.ResponseWriter, r *http.Request) {
	scope, err := auditScope(r)
	if err != nil {
		writeError(w, err)
		return
	}
	report, err := h.svc.Repair(r.Context(), scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
