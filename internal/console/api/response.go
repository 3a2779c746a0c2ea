// Package api holds the console's JSON handlers. Every handler acts for the
// identity placed on the request context by the console's auth middleware,
// calling the play-area API with that identity's token.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Fields  []string `json:"fields,omitempty"`
	Code    int      `json:"code"`
}

// ClientFunc returns the play-area API client acting with token.
type ClientFunc func(token string) *apiclient.Client

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// writeUpstreamError maps a play-area API failure to a response. Business
// errors keep their status and detail; an unreachable or failing API is a
// 502.
func writeUpstreamError(w http.ResponseWriter, logger zerolog.Logger, err error, fallback string) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		writeError(w, apiErr.StatusCode, apiclient.DetailOf(err, fallback))
		return
	}

	if apiclient.IsUnavailable(err) {
		logger.Warn().Err(err).Msg(fallback)
		writeError(w, http.StatusBadGateway, apiclient.DetailOf(err, fallback))
		return
	}

	logger.Error().Err(err).Msg(fallback)
	writeError(w, http.StatusInternalServerError, fallback)
}

// decodeBody decodes a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// clientFor returns the API client of the request's identity.
func clientFor(clients ClientFunc, r *http.Request) (*apiclient.Client, *auth.Identity, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		return nil, nil, false
	}
	return clients(id.Token()), id, true
}
