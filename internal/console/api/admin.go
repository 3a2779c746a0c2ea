package api

import (
	"net/http"
	"strings"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// BranchHandler handles branch pages.
type BranchHandler struct {
	clients ClientFunc
	logger  zerolog.Logger
}

// NewBranchHandler creates a new branch handler.
func NewBranchHandler(clients ClientFunc, logger zerolog.Logger) *BranchHandler {
	return &BranchHandler{
		clients: clients,
		logger:  logger.With().Str("handler", "branch").Logger(),
	}
}

// List returns the branches visible to the operator.
func (h *BranchHandler) List(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	branches, err := client.ListBranches(r.Context())
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to retrieve branches")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"branches": branches,
		"count":    len(branches),
	})
}

// Create creates a branch.
func (h *BranchHandler) Create(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var branch apiclient.Branch
	if err := decodeBody(r, &branch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(branch.Name) == "" {
		writeError(w, http.StatusBadRequest, "Branch name is required")
		return
	}

	created, err := client.CreateBranch(r.Context(), branch)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to create branch")
		return
	}

	h.logger.Info().Str("id", created.BranchID).Str("name", created.Name).Msg("Branch created")
	writeJSON(w, http.StatusCreated, created)
}

// Update applies a partial update to a branch.
func (h *BranchHandler) Update(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	id := mux.Vars(r)["id"]

	var patch map[string]interface{}
	if err := decodeBody(r, &patch); err != nil || len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := client.UpdateBranch(r.Context(), id, patch)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to update branch")
		return
	}

	h.logger.Info().Str("id", id).Msg("Branch updated")
	writeJSON(w, http.StatusOK, updated)
}

// ZoneHandler handles zone pages.
type ZoneHandler struct {
	clients ClientFunc
	logger  zerolog.Logger
}

// NewZoneHandler creates a new zone handler.
func NewZoneHandler(clients ClientFunc, logger zerolog.Logger) *ZoneHandler {
	return &ZoneHandler{
		clients: clients,
		logger:  logger.With().Str("handler", "zone").Logger(),
	}
}

// List returns the zones of a branch.
func (h *ZoneHandler) List(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	zones, err := client.ListZones(r.Context(), r.URL.Query().Get("branch_id"))
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to retrieve zones")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"zones": zones,
		"count": len(zones),
	})
}

// Create creates a zone.
func (h *ZoneHandler) Create(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var zone apiclient.Zone
	if err := decodeBody(r, &zone); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if zone.BranchID == "" {
		writeError(w, http.StatusBadRequest, "Branch is required")
		return
	}
	if strings.TrimSpace(zone.ZoneName) == "" {
		writeError(w, http.StatusBadRequest, "Zone name is required")
		return
	}

	created, err := client.CreateZone(r.Context(), zone)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to create zone")
		return
	}

	h.logger.Info().Str("id", created.ZoneID).Str("branch", created.BranchID).Msg("Zone created")
	writeJSON(w, http.StatusCreated, created)
}

// Update applies a partial update to a zone.
func (h *ZoneHandler) Update(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	id := mux.Vars(r)["id"]

	var patch map[string]interface{}
	if err := decodeBody(r, &patch); err != nil || len(patch) == 0 {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	updated, err := client.UpdateZone(r.Context(), id, patch)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to update zone")
		return
	}

	h.logger.Info().Str("id", id).Msg("Zone updated")
	writeJSON(w, http.StatusOK, updated)
}

// UserHandler handles staff account pages.
type UserHandler struct {
	clients ClientFunc
	logger  zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(clients ClientFunc, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		clients: clients,
		logger:  logger.With().Str("handler", "user").Logger(),
	}
}

// List returns all staff accounts.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	users, err := client.ListUsers(r.Context())
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to retrieve users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// Create creates a staff account.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	client, _, ok := clientFor(h.clients, r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not signed in")
		return
	}

	var user apiclient.User
	if err := decodeBody(r, &user); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	switch {
	case strings.TrimSpace(user.Email) == "":
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	case strings.TrimSpace(user.Name) == "":
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	case user.Role == "":
		writeError(w, http.StatusBadRequest, "Role is required")
		return
	case user.Password == "":
		writeError(w, http.StatusBadRequest, "Password is required")
		return
	}
	user.Role = strings.ToUpper(user.Role)

	created, err := client.CreateUser(r.Context(), user)
	if err != nil {
		writeUpstreamError(w, h.logger, err, "Failed to create user")
		return
	}

	created.Password = ""
	h.logger.Info().Str("id", created.UserID).Str("role", created.Role).Msg("User created")
	writeJSON(w, http.StatusCreated, created)
}
