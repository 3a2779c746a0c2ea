package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

// Options configures a Client.
type Options struct {
	BaseURL         string
	Timeout         time.Duration
	RetryMax        int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	BranchCacheSize int
	BranchCacheTTL  time.Duration
	Logger          zerolog.Logger
}

// Client talks to the external play-area API. A Client without a token can
// only log in; use WithToken to obtain a client acting for a signed-in user.
type Client struct {
	baseURL  string
	token    string
	http     *retryablehttp.Client
	branches *expirable.LRU[string, []Branch]
	logger   zerolog.Logger
}

// New creates a new API client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api base url %q: scheme must be http or https", opts.BaseURL)
	}

	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.BranchCacheSize <= 0 {
		opts.BranchCacheSize = 64
	}
	if opts.BranchCacheTTL == 0 {
		opts.BranchCacheTTL = 5 * time.Minute
	}

	logger := opts.Logger.With().Str("component", "apiclient").Logger()

	rc := retryablehttp.NewClient()
	rc.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}
	rc.HTTPClient.Timeout = opts.Timeout
	rc.Logger = leveledLogger{logger: logger}
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL:  strings.TrimRight(base.String(), "/"),
		http:     rc,
		branches: expirable.NewLRU[string, []Branch](opts.BranchCacheSize, nil, opts.BranchCacheTTL),
		logger:   logger,
	}, nil
}

// WithToken returns a copy of the client that sends the given bearer token.
// The copy shares the transport and branch cache with its parent.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Token returns the bearer token the client sends, if any.
func (c *Client) Token() string {
	return c.token
}

// Login exchanges staff credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListBranches returns the branches visible to the current token. Results
// are cached per token for the configured TTL.
func (c *Client) ListBranches(ctx context.Context) ([]Branch, error) {
	if cached, ok := c.branches.Get(c.cacheKey()); ok {
		metrics.BranchCacheHits.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.BranchCacheHits.WithLabelValues("miss").Inc()

	var branches []Branch
	if err := c.do(ctx, http.MethodGet, "/branches", nil, nil, &branches); err != nil {
		return nil, err
	}

	c.branches.Add(c.cacheKey(), branches)
	return branches, nil
}

// CreateBranch creates a branch and invalidates the branch cache.
func (c *Client) CreateBranch(ctx context.Context, branch Branch) (*Branch, error) {
	var created Branch
	if err := c.do(ctx, http.MethodPost, "/branches", nil, branch, &created); err != nil {
		return nil, err
	}
	c.branches.Purge()
	return &created, nil
}

// UpdateBranch applies a partial update to a branch.
func (c *Client) UpdateBranch(ctx context.Context, id string, patch map[string]interface{}) (*Branch, error) {
	var updated Branch
	if err := c.do(ctx, http.MethodPatch, "/branches/"+url.PathEscape(id), nil, patch, &updated); err != nil {
		return nil, err
	}
	c.branches.Purge()
	return &updated, nil
}

// ListZones returns zones, optionally filtered by branch.
func (c *Client) ListZones(ctx context.Context, branchID string) ([]Zone, error) {
	query := url.Values{}
	if branchID != "" {
		query.Set("branch_id", branchID)
	}

	var zones []Zone
	if err := c.do(ctx, http.MethodGet, "/zones", query, nil, &zones); err != nil {
		return nil, err
	}
	return zones, nil
}

// CreateZone creates a zone.
func (c *Client) CreateZone(ctx context.Context, zone Zone) (*Zone, error) {
	var created Zone
	if err := c.do(ctx, http.MethodPost, "/zones", nil, zone, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateZone applies a partial update to a zone.
func (c *Client) UpdateZone(ctx context.Context, id string, patch map[string]interface{}) (*Zone, error) {
	var updated Zone
	if err := c.do(ctx, http.MethodPatch, "/zones/"+url.PathEscape(id), nil, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListUsers returns staff accounts.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "/users", nil, nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser creates a staff account.
func (c *Client) CreateUser(ctx context.Context, user User) (*User, error) {
	var created User
	if err := c.do(ctx, http.MethodPost, "/users", nil, user, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ActiveSessions returns the sessions currently checked in at a branch, in
// server order.
func (c *Client) ActiveSessions(ctx context.Context, branchID string) ([]Session, error) {
	query := url.Values{}
	query.Set("branch_id", branchID)

	var sessions []Session
	if err := c.do(ctx, http.MethodGet, "/checkin/active", query, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Scan looks up a card at a branch.
func (c *Client) Scan(ctx context.Context, req ScanRequest) (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.do(ctx, http.MethodPost, "/checkin/scan", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckIn opens a session for a card.
func (c *Client) CheckIn(ctx context.Context, req ScanRequest, useSubscription bool) (*Session, error) {
	query := url.Values{}
	query.Set("use_subscription", strconv.FormatBool(useSubscription))

	var session Session
	if err := c.do(ctx, http.MethodPost, "/checkin", query, req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CheckOut closes a session and returns the server's charge summary.
func (c *Client) CheckOut(ctx context.Context, sessionID string) (*CheckoutSummary, error) {
	var summary CheckoutSummary
	if err := c.do(ctx, http.MethodPost, "/checkin/"+url.PathEscape(sessionID)+"/checkout", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// RegisterCustomer creates a customer record for a new card.
func (c *Client) RegisterCustomer(ctx context.Context, req RegisterCustomerRequest) (*Customer, error) {
	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/customers", nil, req, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// AcceptWaiver records the guardian's acceptance of the liability waiver.
func (c *Client) AcceptWaiver(ctx context.Context, req WaiverRequest) error {
	return c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(req.CustomerID)+"/waiver", nil, req, nil)
}

// ListProducts returns the POS catalogue.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.do(ctx, http.MethodGet, "/products", nil, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// CreateOrder opens a POS order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders", nil, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// PayOrder settles a POS order.
func (c *Client) PayOrder(ctx context.Context, orderID string, req PaymentRequest) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/pay", nil, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) cacheKey() string {
	if c.token == "" {
		return "anonymous"
	}
	return c.token
}

// do performs a request against the API. GET requests go through the
// retrying client; everything else is sent exactly once.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	var resp *http.Response
	if method == http.MethodGet {
		rreq, rerr := retryablehttp.FromRequest(req)
		if rerr != nil {
			return fmt.Errorf("failed to build request: %w", rerr)
		}
		resp, err = c.http.Do(rreq)
	} else {
		resp, err = c.http.HTTPClient.Do(req)
	}
	duration := time.Since(start)

	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "error").Inc()
		c.logger.Debug().
			Err(err).
			Str("method", method).
			Str("path", path).
			Dur("duration", duration).
			Msg("API request failed")
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.APIRequestDuration.WithLabelValues(method).Observe(duration.Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}

	return nil
}

// APIError is an error reported by the API, carrying its "detail" message.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api error: %d: %s", e.StatusCode, e.Detail)
}

// TransportError is returned when the API could not be reached.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsUnavailable reports whether err means the API could not be reached or
// failed on its side.
func IsUnavailable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// DetailOf returns the server-provided detail of err, or fallback when err
// carries none.
func DetailOf(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return fallback
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return apiErr
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		apiErr.Detail = detail
		return apiErr
	}

	// Validation errors come back as a list of {loc, msg, type} objects.
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				msgs = append(msgs, item.Msg)
			}
		}
		apiErr.Detail = strings.Join(msgs, "; ")
		return apiErr
	}

	apiErr.Detail = string(payload.Detail)
	return apiErr
}

// leveledLogger adapts zerolog to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Fields(keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}
