package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/goodtune/playdesk/internal/checkin"
	"github.com/goodtune/playdesk/internal/feed"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// CheckInHandler handles the front-desk scan flow and the active list.
type CheckInHandler struct {
	clients ClientFunc
	states  storage.ScanStateStore
	feed    *feed.Feed
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewCheckInHandler creates a new check-in handler.
func NewCheckInHandler(clients ClientFunc, states storage.ScanStateStore, f *feed.Feed, scanStateTTL time.Duration, logger zerolog.Logger) *CheckInHandler {
	return &CheckInHandler{
		clients: clients,
		states:  states,
		feed:    f,
		ttl:     scanStateTTL,
		logger:  logger.With().Str("handler", "checkin").Logger(),
	}
}

// desk builds the desk flow of the requesting operator. Each console session
// keeps its own scan result.
func (h *CheckInHandler) desk(w http.ResponseWriter, r *http.Request) (*checkin.Desk, bool) {
	client, id, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return nil, false
	}
	return checkin.NewDesk(client, h.states, id.SessionID, h.ttl, h.feed.WithSource(client), h.logger), true
}

func (h *CheckInHandler) feedFor(w http.ResponseWriter, r *http.Request) (*feed.Feed, bool) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return nil, false
	}
	return h.feed.WithSource(client), true
}

// writeDeskError maps desk flow errors to responses.
func (h *CheckInHandler) writeDeskError(w http.ResponseWriter, err error, fallback string) {
	var verr *checkin.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: verr.Message,
			Fields:  verr.Fields,
			Code:    http.StatusBadRequest,
		})
	case errors.Is(err, checkin.ErrNoScan):
		writeError(w, http.StatusNotFound, "No card has been scanned")
	case errors.Is(err, checkin.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeUpstreamError(w, h.logger, err, fallback)
	}
}

// ScanRequest is the body of a scan submission.
type ScanRequest struct {
	CardNumber string `json:"card_number"`
	BranchID   string `json:"branch_id"`
}

// Scan submits a card and returns the resolved view.
func (h *CheckInHandler) Scan(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	var req ScanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := desk.Scan(r.Context(), req.CardNumber, req.BranchID)
	if err != nil {
		h.writeDeskError(w, err, "Scan failed")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Current returns the operator's current scan view.
func (h *CheckInHandler) Current(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	view, err := desk.Current(r.Context())
	if err != nil {
		h.writeDeskError(w, err, "Failed to load scan result")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Cancel discards the operator's scan result.
func (h *CheckInHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	if err := desk.Cancel(r.Context()); err != nil {
		h.writeDeskError(w, err, "Failed to clear scan result")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Scan cleared",
	})
}

// Retry re-issues the stored scan.
func (h *CheckInHandler) Retry(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	view, err := desk.Retry(r.Context())
	if err != nil {
		h.writeDeskError(w, err, "Scan failed")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// Register submits the registration dialog.
func (h *CheckInHandler) Register(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	var form checkin.RegistrationForm
	if err := decodeBody(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := desk.Register(r.Context(), form)
	if err != nil {
		h.writeDeskError(w, err, "Registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, view)
}

// AcceptWaiver accepts the waiver and returns the follow-up scan view.
func (h *CheckInHandler) AcceptWaiver(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	view, err := desk.AcceptWaiver(r.Context())
	if err != nil {
		h.writeDeskError(w, err, "Waiver acceptance failed")
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// CheckIn checks the scanned card in.
func (h *CheckInHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	session, err := desk.CheckIn(r.Context())
	if err != nil {
		h.writeDeskError(w, err, "Check-in failed")
		return
	}

	h.logger.Info().Str("session_id", session.SessionID).Str("card", session.CardNumber).Msg("Checked in")
	writeJSON(w, http.StatusCreated, session)
}

// CheckOut checks out the scanned card's active session.
func (h *CheckInHandler) CheckOut(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	summary, err := desk.CheckOut(r.Context())
	if err != nil {
		h.writeDeskError(w, err, "Check-out failed")
		return
	}

	h.logger.Info().Str("session_id", summary.SessionID).Int("overdue_minutes", summary.OverdueMinutes).Msg("Checked out")
	writeJSON(w, http.StatusOK, summary)
}

// CheckOutSession checks out a session picked from the active list.
func (h *CheckInHandler) CheckOutSession(w http.ResponseWriter, r *http.Request) {
	desk, ok := h.desk(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	branchID := r.URL.Query().Get("branch_id")

	summary, err := desk.CheckOutSession(r.Context(), id, branchID)
	if err != nil {
		h.writeDeskError(w, err, "Check-out failed")
		return
	}

	h.logger.Info().Str("session_id", id).Int("overdue_minutes", summary.OverdueMinutes).Msg("Checked out from active list")
	writeJSON(w, http.StatusOK, summary)
}

// Active fetches the active list of a branch and returns it rendered. Each
// call is a branch selection: the list is re-fetched.
func (h *CheckInHandler) Active(w http.ResponseWriter, r *http.Request) {
	f, ok := h.feedFor(w, r)
	if !ok {
		return
	}

	branchID := r.URL.Query().Get("branch_id")
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	board, err := f.SelectBranch(r.Context(), branchID)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to load active sessions")
		return
	}

	writeJSON(w, http.StatusOK, board)
}

// Refresh re-fetches the active list of a branch on request.
func (h *CheckInHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	f, ok := h.feedFor(w, r)
	if !ok {
		return
	}

	branchID := r.URL.Query().Get("branch_id")
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	if err := f.Refresh(r.Context(), branchID); err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to refresh active sessions")
		return
	}

	board, err := f.Board(r.Context(), branchID)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to load active sessions")
		return
	}

	writeJSON(w, http.StatusOK, board)
}

// Stream serves the active list of a branch as server-sent events. The
// refresh and display timers live exactly as long as the request.
func (h *CheckInHandler) Stream(w http.ResponseWriter, r *http.Request) {
	f, ok := h.feedFor(w, r)
	if !ok {
		return
	}

	branchID := r.URL.Query().Get("branch_id")
	if branchID == "" {
		writeError(w, http.StatusBadRequest, "branch_id is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	if _, err := f.SelectBranch(r.Context(), branchID); err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to load active sessions")
		return
	}

	// The server write timeout applies to ordinary requests only.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug().Str("branch", branchID).Msg("Active list stream opened")

	err := f.Run(r.Context(), branchID, func(board feed.Board) error {
		data, err := json.Marshal(board)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: board\ndata: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		h.logger.Debug().Err(err).Str("branch", branchID).Msg("Active list stream ended")
		return
	}

	h.logger.Debug().Str("branch", branchID).Msg("Active list stream closed")
}
