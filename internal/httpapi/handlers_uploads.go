package httpapi

import (
	"net/http"

	"github.com/brainhub-io/gateway/internal/security"
)

type presignRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

type presignResponse struct {
	URL       string `json:"url"`
	Key       string `json:"key"`
	ExpiresAt string `json:"expires_at"`
}

// PresignUpload is POST /uploads/presigned-url, per spec.md §4.6.
func (s *Server) PresignUpload(w http.ResponseWriter, r *http.Request) {
	var req presignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Filename == "" {
		writeError(w, r, http.StatusBadRequest, "filename is required")
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	subjectID := security.SubjectID(r.Context())
	result, err := s.Minter.Mint(r.Context(), subjectID, req.Filename, req.ContentType)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to mint upload url")
		return
	}

	writeJSON(w, http.StatusOK, presignResponse{
		URL:       result.URL,
		Key:       result.Key,
		ExpiresAt: result.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
