package web

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/hpungsan/scribe/internal/errors"
)

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderError writes an error as {"error": {"code", "message"}} with the
// taxonomy's HTTP status mapping. Anything that is not a ScribeError is
// treated as internal; its message stays out of the response body.
func renderError(w http.ResponseWriter, err error) {
	var sErr *errors.ScribeError
	if !stderrors.As(err, &sErr) {
		sErr = errors.NewInternal(err)
	}

	if sErr.Status >= http.StatusInternalServerError {
		slog.Error("request failed", "code", sErr.Code, "error", err)
	}

	renderJSON(w, sErr.Status, map[string]any{
		"error": map[string]any{
			"code":    string(sErr.Code),
			"message": sErr.Message,
		},
	})
}
