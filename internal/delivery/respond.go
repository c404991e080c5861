package delivery

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/hybridaudio/stemforge/internal/errs"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Validation and
// format problems are the caller's fault; consistency problems come with
// a repair hint; everything else is a server-side failure.
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case errs.KindValidation, errs.KindFormat:
		status = http.StatusUnprocessableEntity
	case errs.KindCacheConsistency:
		status = http.StatusConflict
	case errs.KindExternalService:
		status = http.StatusBadGateway
	case errs.KindMergeIntegrity:
		status = http.StatusInternalServerError
	}
	if kind == "" {
		kind = "internal"
	}

	writeJSON(w, status, errorBody{
		Kind:    string(kind),
		Message: err.Error(),
		Hint:    errs.HintOf(err),
	})
}
