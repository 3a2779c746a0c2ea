// Package console serves the front-desk console: a JSON API for the desk
// screens and a server-rendered active session board.
package console

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/goodtune/playdesk/internal/access"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/goodtune/playdesk/internal/console/api"
	"github.com/goodtune/playdesk/internal/feed"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

//go:embed static
var staticFS embed.FS

// Config holds the console server configuration.
type Config struct {
	ListenAddr     string
	CookieName     string
	SecureCookie   bool
	ScanStateTTL   time.Duration
	RateLimit      int // requests per minute per caller
	RateLimitBurst int
	AllowedOrigins []string
}

// Server represents the console HTTP server.
type Server struct {
	config      Config
	apiClient   *apiclient.Client
	store       storage.Store
	auth        *auth.Service
	checker     access.Checker
	feed        *feed.Feed
	rateLimiter *RateLimiter
	server      *http.Server
	router      *mux.Router
	handler     http.Handler
	templates   *template.Template
	listener    net.Listener
	logger      zerolog.Logger
}

// NewServer creates a new console server.
func NewServer(cfg Config, apiClient *apiclient.Client, store storage.Store, authSvc *auth.Service, checker access.Checker, f *feed.Feed, logger zerolog.Logger) *Server {
	if cfg.CookieName == "" {
		cfg.CookieName = "playdesk_session"
	}

	router := mux.NewRouter()

	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(staticFS, "static/templates/*.html")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to parse templates")
		tmpl = template.New("fallback")
	}

	s := &Server{
		config:      cfg,
		apiClient:   apiClient,
		store:       store,
		auth:        authSvc,
		checker:     checker,
		feed:        f,
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst),
		router:      router,
		templates:   tmpl,
		logger:      logger.With().Str("component", "console").Logger(),
	}

	s.setupRoutes()

	// CORS wraps the router: mux runs middleware only on matched routes, and
	// preflight requests match none.
	s.handler = router
	if len(cfg.AllowedOrigins) > 0 {
		s.handler = CORSMiddleware(cfg.AllowedOrigins)(router)
	}

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	limit := RateLimitMiddleware(s.rateLimiter)

	// Public routes
	s.router.Handle("/api/auth/login", limit(http.HandlerFunc(s.handleLogin))).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Authenticated routes
	authRouter := s.router.PathPrefix("/").Subrouter()
	authRouter.Use(AuthMiddleware(s.auth, s.config.CookieName))
	authRouter.Use(limit)

	authRouter.HandleFunc("/api/auth/logout", s.handleLogout).Methods("POST")
	authRouter.HandleFunc("/api/auth/me", s.handleMe).Methods("GET")
	authRouter.HandleFunc("/api/access", s.handleAccess).Methods("GET")

	clients := api.ClientFunc(s.apiClient.WithToken)
	require := func(h http.HandlerFunc, actions ...string) http.Handler {
		return RequireAction(s.checker, s.logger, actions...)(h)
	}

	// Branches are listed by every screen with a branch selector.
	branchHandler := api.NewBranchHandler(clients, s.logger)
	authRouter.Handle("/api/branches", require(branchHandler.List, access.ActionBranches, access.ActionCheckIn, access.ActionPOS)).Methods("GET")
	authRouter.Handle("/api/branches", require(branchHandler.Create, access.ActionBranchesManage)).Methods("POST")
	authRouter.Handle("/api/branches/{id}", require(branchHandler.Update, access.ActionBranchesManage)).Methods("PATCH")

	zoneHandler := api.NewZoneHandler(clients, s.logger)
	authRouter.Handle("/api/zones", require(zoneHandler.List, access.ActionZones)).Methods("GET")
	authRouter.Handle("/api/zones", require(zoneHandler.Create, access.ActionZonesManage)).Methods("POST")
	authRouter.Handle("/api/zones/{id}", require(zoneHandler.Update, access.ActionZonesManage)).Methods("PATCH")

	userHandler := api.NewUserHandler(clients, s.logger)
	authRouter.Handle("/api/users", require(userHandler.List, access.ActionUsers)).Methods("GET")
	authRouter.Handle("/api/users", require(userHandler.Create, access.ActionUsersManage)).Methods("POST")

	checkInHandler := api.NewCheckInHandler(clients, s.store.ScanStates(), s.feed, s.config.ScanStateTTL, s.logger)
	authRouter.Handle("/api/checkin/scan", require(checkInHandler.Current, access.ActionCheckIn)).Methods("GET")
	authRouter.Handle("/api/checkin/scan", require(checkInHandler.Scan, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/scan", require(checkInHandler.Cancel, access.ActionCheckIn)).Methods("DELETE")
	authRouter.Handle("/api/checkin/scan/retry", require(checkInHandler.Retry, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/register", require(checkInHandler.Register, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/waiver", require(checkInHandler.AcceptWaiver, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/checkin", require(checkInHandler.CheckIn, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/checkout", require(checkInHandler.CheckOut, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/active", require(checkInHandler.Active, access.ActionCheckIn)).Methods("GET")
	authRouter.Handle("/api/checkin/active/refresh", require(checkInHandler.Refresh, access.ActionCheckIn)).Methods("POST")
	authRouter.Handle("/api/checkin/active/stream", require(checkInHandler.Stream, access.ActionCheckIn)).Methods("GET")
	authRouter.Handle("/api/sessions/{id}/checkout", require(checkInHandler.CheckOutSession, access.ActionCheckIn)).Methods("POST")

	posHandler := api.NewPOSHandler(clients, s.logger)
	authRouter.Handle("/api/products", require(posHandler.Products, access.ActionPOS)).Methods("GET")
	authRouter.Handle("/api/orders", require(posHandler.CreateOrder, access.ActionPOS)).Methods("POST")
	authRouter.Handle("/api/orders/{id}/pay", require(posHandler.Pay, access.ActionPOS)).Methods("POST")

	authRouter.Handle("/board", require(s.handleBoard, access.ActionCheckIn)).Methods("GET")
}

// SetListener sets a pre-created listener for systemd socket activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the console HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting console server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated console listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Console server error")
		}
	}()

	return nil
}

// Stop gracefully stops the console HTTP server.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping console server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("console server shutdown: %w", err)
	}

	return nil
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
