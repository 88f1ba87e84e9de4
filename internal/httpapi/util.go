package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/brainhub-io/gateway/internal/apperr"
)

func uuidFromString(s string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON decodes r.Body into v, writing the appropriate error
// response and returning false on failure. A body that trips the
// request's http.MaxBytesReader cap (set by security.Sanitize) surfaces
// here as a *http.MaxBytesError, which maps to 413 rather than the
// generic 400 every other decode failure gets.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			appErr := apperr.New(apperr.KindPayloadTooLarge, "request body too large")
			writeError(w, r, appErr.Status(), appErr.Error())
			return false
		}
		writeError(w, r, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}
