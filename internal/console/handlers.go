package console

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/goodtune/playdesk/internal/feed"
)

// LoginRequest is the body of a console login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful console login.
type LoginResponse struct {
	SessionID string         `json:"session_id"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *auth.Identity `json:"user"`
	Actions   []string       `json:"actions"`
}

// handleLogin signs a staff member in against the play-area API.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	id, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			WriteError(w, http.StatusUnauthorized, apiclient.DetailOf(err, "Invalid email or password"))
		case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionExpired):
			s.logger.Warn().Err(err).Msg("Login returned an unusable token")
			WriteError(w, http.StatusBadGateway, "Login service returned an invalid token")
		case apiclient.IsUnavailable(err):
			s.logger.Warn().Err(err).Msg("Login service unavailable")
			WriteError(w, http.StatusBadGateway, "Login service unavailable")
		default:
			s.logger.Error().Err(err).Msg("Login error")
			WriteError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	actions, err := s.checker.Actions(r.Context(), id.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to evaluate actions")
		actions = []string{}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    id.SessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		Expires:  id.ExpiresAt,
	})

	WriteJSON(w, http.StatusOK, LoginResponse{
		SessionID: id.SessionID,
		ExpiresAt: id.ExpiresAt,
		User:      id,
		Actions:   actions,
	})
}

// handleLogout ends the console session and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	if err := s.auth.Logout(r.Context(), id.SessionID); err != nil {
		s.logger.Error().Err(err).Msg("Logout error")
		WriteError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	// The desk scan result is keyed by the console session.
	if err := s.store.ScanStates().Delete(r.Context(), id.SessionID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id.SessionID).Msg("Failed to clear scan result")
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.config.SecureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Logged out",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}
	WriteJSON(w, http.StatusOK, id)
}

// handleAccess lists the actions the caller's role may perform.
func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	actions, err := s.checker.Actions(r.Context(), id.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to evaluate actions")
		WriteError(w, http.StatusInternalServerError, "Access check failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"role":    id.Role,
		"actions": actions,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.auth.ActiveSessions(r.Context())
	if err != nil {
		WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": count,
	})
}

// boardPage is the data of the board template.
type boardPage struct {
	Title    string
	User     *auth.Identity
	Branches []apiclient.Branch
	BranchID string
	Board    *feed.Board
	Error    string
}

// handleBoard renders the active list of a branch. Without a branch_id the
// operator's own branch is shown.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Not signed in")
		return
	}
	client := s.apiClient.WithToken(id.Token())

	page := boardPage{Title: "Active sessions", User: id}
	status := http.StatusOK

	branches, err := client.ListBranches(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to list branches for board")
	}
	page.Branches = branches

	page.BranchID = r.URL.Query().Get("branch_id")
	if page.BranchID == "" {
		page.BranchID = feed.DefaultBranch(id.BranchID, branches)
	}

	if page.BranchID == "" {
		page.Error = "No branch available"
		status = http.StatusNotFound
	} else {
		f := s.feed.WithSource(client)
		board, err := f.SelectBranch(r.Context(), page.BranchID)
		if err != nil {
			// A failed fetch still shows the last known list, marked stale.
			page.Error = apiclient.DetailOf(err, "Failed to load active sessions")
			board, err = f.Board(r.Context(), page.BranchID)
			if err != nil {
				status = http.StatusBadGateway
			}
		}
		page.Board = board
	}

	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, "board.html", page); err != nil {
		s.logger.Error().Err(err).Msg("Failed to render board template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

var templateFuncs = template.FuncMap{
	"minutes": formatMinutes,
	"clock": func(t time.Time) string {
		return t.Format("15:04")
	},
}

// formatMinutes renders a minute count as "45m" or "2h 05m".
func formatMinutes(m int) string {
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", m/60, m%60)
}
