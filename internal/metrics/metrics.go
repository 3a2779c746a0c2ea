package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Console request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_requests_total",
			Help: "Total number of console HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playdesk_request_duration_seconds",
			Help:    "Console request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Upstream API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_api_requests_total",
			Help: "Total requests sent to the play-area API",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playdesk_api_request_duration_seconds",
			Help:    "Play-area API request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	BranchCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_branch_cache_lookups_total",
			Help: "Branch list cache lookups by result",
		},
		[]string{"result"},
	)

	// Desk metrics
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_scans_total",
			Help: "Card scans by resolved status",
		},
		[]string{"status"},
	)

	CheckInsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_checkins_total",
			Help: "Successful check-ins by payment path",
		},
		[]string{"payment"},
	)

	CheckOutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_checkouts_total",
			Help: "Successful check-outs by whether overtime was charged",
		},
		[]string{"overdue"},
	)

	// Feed metrics
	FeedRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_feed_refreshes_total",
			Help: "Active session feed refreshes by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playdesk_active_sessions",
			Help: "Active sessions per branch as of the last refresh",
		},
		[]string{"branch"},
	)

	OverdueSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "playdesk_overdue_sessions",
			Help: "Overdue sessions per branch as of the last render",
		},
		[]string{"branch"},
	)

	FeedStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playdesk_feed_streams",
			Help: "Number of open active-session streams",
		},
	)

	// Access control metrics
	AccessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_access_decisions_total",
			Help: "Access decisions by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	PolicyReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_policy_reloads_total",
			Help: "Access policy reloads by result",
		},
		[]string{"result"},
	)

	ConsoleLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playdesk_console_logins_total",
			Help: "Console login attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		APIRequestsTotal,
		APIRequestDuration,
		BranchCacheHits,
		ScansTotal,
		CheckInsTotal,
		CheckOutsTotal,
		FeedRefreshesTotal,
		ActiveSessions,
		OverdueSessions,
		FeedStreams,
		AccessDecisions,
		PolicyReloads,
		ConsoleLogins,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
