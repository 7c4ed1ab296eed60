package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/casewise/internal/auth"
	"github.com/roach88/casewise/internal/domain"
	"github.com/roach88/casewise/internal/ident"
	"github.com/roach88/casewise/internal/store"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.repo.ListSessions(r.Context())
	if err != nil {
		s.storageError(w, "list sessions", err)
		return
	}
	if email := r.URL.Query().Get("email"); strings.TrimSpace(email) != "" {
		filtered := sessions[:0]
		for _, sess := range sessions {
			if ident.SameEmail(sess.ClientEmail(), email) {
				filtered = append(filtered, sess)
			}
		}
		sessions = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.repo.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.storageError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var sess domain.Session
	if err := decodeJSON(w, r, &sess); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case sess.Key() == "":
		sess.SessionID = id
	case sess.Key() != id:
		writeError(w, http.StatusBadRequest, "session id does not match path")
		return
	}
	if sess.SessionID == "" {
		sess.SessionID = sess.WorkflowID
	}

	stored, err := s.repo.UpsertSession(r.Context(), sess)
	if err != nil {
		s.storageError(w, "put session", err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := s.repo.ListAssignments(r.Context())
	if err != nil {
		s.storageError(w, "list assignments", err)
		return
	}
	if email := r.URL.Query().Get("email"); strings.TrimSpace(email) != "" {
		filtered := assignments[:0]
		for _, a := range assignments {
			if ident.SameEmail(a.ClientEmail, email) {
				filtered = append(filtered, a)
			}
		}
		assignments = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"assignments": assignments})
}

func (s *Server) handlePutAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var a domain.QuestionnaireAssignment
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if a.ID == "" && a.LegacyID == "" {
		a.ID = id
	}
	if !carriesID(a, id) {
		writeError(w, http.StatusBadRequest, "assignment id does not match path")
		return
	}

	if _, err := s.repo.UpsertAssignment(r.Context(), a); err != nil {
		s.storageError(w, "put assignment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func carriesID(a domain.QuestionnaireAssignment, id string) bool {
	for _, v := range []string{a.ID, a.LegacyID, a.OriginalID} {
		if strings.TrimSpace(v) == id {
			return true
		}
	}
	return a.Identity().Has(id)
}

type accountRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	email := ident.NormalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}
	if strings.TrimSpace(req.Password) == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if s.limiter != nil && !s.limiter.Allow(email) {
		wait := s.limiter.RetryAfter(email)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		writeError(w, http.StatusTooManyRequests, "too many account requests")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	err = s.repo.CreateAccount(r.Context(), email, hash, s.now().UTC())
	if errors.Is(err, store.ErrConflict) {
		writeError(w, http.StatusConflict, "account already exists")
		return
	}
	if err != nil {
		s.storageError(w, "create account", err)
		return
	}
	s.logger.Info("account created", "email", email)
	writeJSON(w, http.StatusCreated, map[string]string{"email": email})
}

func (s *Server) storageError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrMissingKey) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Error("storage failure", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
