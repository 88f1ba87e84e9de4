package httpapi

import (
	"errors"
	"net/http"

	"github.com/brainhub-io/gateway/internal/users"
)

type authRequest struct {
	Principal string `json:"principal"`
	Password  string `json:"password"`
}

type authResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Register creates a new user and immediately issues a bearer token.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Principal == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "principal and password are required")
		return
	}

	repo := s.Users
	subjectID, err := repo.Register(r.Context(), req.Principal, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrAlreadyExists) {
			writeError(w, r, http.StatusConflict, "principal already registered")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to register")
		return
	}

	s.issueToken(w, r, subjectID)
}

// Login authenticates against stored credentials, rejecting outright
// if the brute-force guard has locked this principal/client pair, per
// spec.md §4.1's brute-force guard.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Principal == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "principal and password are required")
		return
	}

	if s.BruteForce.Locked(r.Context(), req.Principal, r.RemoteAddr) {
		writeError(w, r, http.StatusTooManyRequests, "account temporarily locked, try again later")
		return
	}

	subjectID, err := s.Users.Authenticate(r.Context(), req.Principal, req.Password)
	if err != nil {
		s.BruteForce.RecordFailure(r.Context(), req.Principal, r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	s.BruteForce.RecordSuccess(r.Context(), req.Principal, r.RemoteAddr)
	s.issueToken(w, r, subjectID)
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request, subjectID string) {
	tok, expiresAt, err := s.TokenSvc.Issue(subjectID, nil)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: tok, ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00")})
}
