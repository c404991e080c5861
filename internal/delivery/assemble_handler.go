package delivery

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hybridaudio/stemforge/internal/domain"
	"github.com/hybridaudio/stemforge/internal/errs"
	"github.com/hybridaudio/stemforge/internal/template"
)

type AssembleHandler struct {
	svc *domain.AssembleService
}

func NewAssembleHandler(svc *domain.AssembleService) *AssembleHandler {
	return &AssembleHandler{svc: svc}
}

type assembleRequest struct {
	Template *template.Template `json:"template"`
	Values   map[string]string  `json:"values,omitempty"`
	Subject  string             `json:"subject"`
}

func (r *assembleRequest) validate() error {
	if r.Template == nil {
		return errs.Validation("template", "template is required")
	}
	if r.Subject == "" {
		return errs.Validation("subject", "subject is required")
	}
	return nil
}

// POST /assemble
func (h *AssembleHandler) Assemble(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "invalid json: %v", err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, err)
		return
	}

	artifact, err := h.svc.Assemble(r.Context(), domain.AssembleRequest{
		Template: req.Template,
		Values:   req.Values,
		Subject:  req.Subject,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifact)
}

// POST /assemble/preview — resolve only, no synthesis, no merge.
func (h *AssembleHandler) Preview(w http.ResponseWriter, r *http.Request) {
	var req assembleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.Validation("body", "invalid json: %v", err))
		return
	}
	if req.Template == nil {
		writeError(w, errs.Validation("template", "template is required"))
		return
	}

	plan, err := h.svc.Preview(domain.AssembleRequest{
		Template: req.Template,
		Values:   req.Values,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// POST /resolve — validate and linearize a raw template.
func (h *AssembleHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var t template.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeError(w, errs.Validation("body", "invalid json: %v", err))
		return
	}

	plan, err := h.svc.Preview(domain.AssembleRequest{Template: &t})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}
