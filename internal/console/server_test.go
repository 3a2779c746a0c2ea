package console

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/playdesk/internal/access"
	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/auth"
	"github.com/goodtune/playdesk/internal/feed"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/goodtune/playdesk/internal/storage/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const testSecret = "console-test-secret"

// fakeUpstream stands in for the play-area API.
type fakeUpstream struct {
	t *testing.T

	mu           sync.Mutex
	loginStatus  int
	activeStatus int
	sessions     []apiclient.Session
	scans        map[string]apiclient.ScanResponse
	checkIns     []string
	activeCalls  int
}

var staffRoles = map[string]string{
	"admin@example.com":     "ADMIN",
	"cashier@example.com":   "CASHIER",
	"attendant@example.com": "ATTENDANT",
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	elapsed := 150
	return &fakeUpstream{
		t: t,
		sessions: []apiclient.Session{
			{SessionID: "S1", ChildName: "Lina", GuardianName: "Sara", CheckInTime: time.Now().Add(-150 * time.Minute), ElapsedMinutes: &elapsed, PaymentType: apiclient.PaymentHourly},
			{SessionID: "S2", ChildName: "Omar", GuardianName: "Huda", CheckInTime: time.Now().Add(-20 * time.Minute), IncludedMinutes: 120, PaymentType: apiclient.PaymentSubscription},
		},
		scans: map[string]apiclient.ScanResponse{
			"C1": {
				Status:     "READY_TO_CHECK_IN",
				Message:    "Ready",
				CardNumber: "C1",
				Customer:   &apiclient.Customer{CustomerID: "CU1", CardNumber: "C1", ChildName: "Lina", WaiverAccepted: true},
			},
		},
	}
}

func (f *fakeUpstream) token(t *testing.T, email string) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID:   "U-" + email,
		Email:    email,
		Role:     staffRoles[email],
		BranchID: "B1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

func (f *fakeUpstream) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req apiclient.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		status := f.loginStatus
		f.mu.Unlock()
		if status != 0 {
			writeUpstream(w, status, map[string]string{"detail": "unavailable"})
			return
		}

		role, ok := staffRoles[req.Email]
		if !ok || req.Password != "secret" {
			writeUpstream(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid email or password"})
			return
		}
		writeUpstream(w, http.StatusOK, apiclient.LoginResponse{
			AccessToken: f.token(f.t, req.Email),
			TokenType:   "bearer",
			User:        apiclient.User{UserID: "U-" + req.Email, Email: req.Email, Name: "Staff", Role: role, BranchID: "B1"},
		})
	})

	mux.HandleFunc("GET /branches", func(w http.ResponseWriter, r *http.Request) {
		writeUpstream(w, http.StatusOK, []apiclient.Branch{
			{BranchID: "B1", Name: "Main"},
			{BranchID: "B2", Name: "Mall"},
		})
	})

	mux.HandleFunc("GET /checkin/active", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.activeCalls++
		if f.activeStatus != 0 {
			writeUpstream(w, f.activeStatus, map[string]string{"detail": "database down"})
			return
		}
		writeUpstream(w, http.StatusOK, f.sessions)
	})

	mux.HandleFunc("POST /checkin/scan", func(w http.ResponseWriter, r *http.Request) {
		var req apiclient.ScanRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		if req.CardNumber == "BLOCKED" {
			writeUpstream(w, http.StatusConflict, map[string]string{"detail": "Card blocked"})
			return
		}
		f.mu.Lock()
		resp, ok := f.scans[req.CardNumber]
		f.mu.Unlock()
		if !ok {
			resp = apiclient.ScanResponse{Status: "NEW_CARD", Message: "Card not registered", CardNumber: req.CardNumber}
		}
		writeUpstream(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /checkin", func(w http.ResponseWriter, r *http.Request) {
		var req apiclient.ScanRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		f.mu.Lock()
		f.checkIns = append(f.checkIns, req.CardNumber+"/"+r.URL.Query().Get("use_subscription"))
		f.mu.Unlock()

		writeUpstream(w, http.StatusCreated, apiclient.Session{
			SessionID:   "S-new",
			CardNumber:  req.CardNumber,
			BranchID:    req.BranchID,
			ChildName:   "Lina",
			CheckInTime: time.Now(),
			PaymentType: apiclient.PaymentHourly,
		})
	})

	mux.HandleFunc("POST /checkin/{id}/checkout", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "S9" {
			writeUpstream(w, http.StatusConflict, map[string]string{"detail": "Session already closed"})
			return
		}
		writeUpstream(w, http.StatusOK, apiclient.CheckoutSummary{
			SessionID:       r.PathValue("id"),
			Status:          "CHECKED_OUT",
			DurationMinutes: 150,
			IncludedMinutes: 120,
			OverdueMinutes:  30,
			OverdueAmount:   25,
		})
	})

	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		writeUpstream(w, http.StatusOK, []apiclient.Product{
			{ProductID: "P1", NameEn: "Socks", IsActive: true},
			{ProductID: "P2", NameEn: "Old socks"},
		})
	})

	return mux
}

func writeUpstream(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testEnv struct {
	upstream *fakeUpstream
	server   *Server
}

func setupServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	upstream := newFakeUpstream(t)
	srv := httptest.NewServer(upstream.handler())
	t.Cleanup(srv.Close)

	client, err := apiclient.New(apiclient.Options{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("apiclient.New failed: %v", err)
	}

	store := memory.New(memory.Options{})
	t.Cleanup(func() { _ = store.Close() })

	checker, err := access.NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("access.NewEngine failed: %v", err)
	}

	authSvc := auth.NewService(client, store.ConsoleSessions(), testSecret, time.Hour, zerolog.Nop())
	f := feed.New(client, store.Snapshots(), nil, feed.Config{
		RefreshInterval: 20 * time.Millisecond,
		DisplayInterval: 30 * time.Millisecond,
	}, zerolog.Nop())

	if cfg.ScanStateTTL == 0 {
		cfg.ScanStateTTL = time.Minute
	}

	return &testEnv{
		upstream: upstream,
		server:   NewServer(cfg, client, store, authSvc, checker, f, zerolog.Nop()),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, email string) *http.Cookie {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: email, Password: "secret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Login as %s failed: %d %s", email, rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "playdesk_session" {
			return c
		}
	}
	t.Fatalf("Login did not set a session cookie")
	return nil
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestLoginMeLogout(t *testing.T) {
	env := setupServer(t, Config{})

	rec := env.do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "admin@example.com", Password: "secret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	decode(t, rec, &resp)
	if resp.SessionID == "" || resp.User == nil || resp.User.Role != "ADMIN" {
		t.Errorf("Unexpected login response %+v", resp)
	}
	if len(resp.Actions) != 10 {
		t.Errorf("Expected 10 actions for ADMIN, got %v", resp.Actions)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "playdesk_session" {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.Value != resp.SessionID {
		t.Fatalf("Expected HttpOnly session cookie, got %+v", cookie)
	}

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from me, got %d", rec.Code)
	}
	var me auth.Identity
	decode(t, rec, &me)
	if me.Email != "admin@example.com" || me.BranchID != "B1" {
		t.Errorf("Unexpected identity %+v", me)
	}

	// Bearer session ids work as well as the cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.SessionID)
	bearer := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(bearer, req)
	if bearer.Code != http.StatusOK {
		t.Errorf("Expected 200 with bearer session, got %d", bearer.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from logout, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 after logout, got %d", rec.Code)
	}
}

func TestLogin_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        interface{}
		loginStatus int
		want        int
	}{
		{name: "missing password", body: LoginRequest{Email: "admin@example.com"}, want: http.StatusBadRequest},
		{name: "wrong password", body: LoginRequest{Email: "admin@example.com", Password: "nope"}, want: http.StatusUnauthorized},
		{name: "api unavailable", body: LoginRequest{Email: "admin@example.com", Password: "secret"}, loginStatus: http.StatusServiceUnavailable, want: http.StatusBadGateway},
		{name: "bad json", body: "not an object", want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupServer(t, Config{})
			env.upstream.loginStatus = tt.loginStatus

			rec := env.do(t, http.MethodPost, "/api/auth/login", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			for _, c := range rec.Result().Cookies() {
				if c.Name == "playdesk_session" {
					t.Errorf("Failed login must not set a session cookie")
				}
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := setupServer(t, Config{})

	paths := []string{"/api/auth/me", "/api/checkin/active?branch_id=B1", "/api/products", "/board"}
	for _, path := range paths {
		rec := env.do(t, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: "playdesk_session", Value: "forged"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for unknown session, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	env := setupServer(t, Config{})
	env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "ok" || body["active_sessions"] != float64(1) {
		t.Errorf("Unexpected health body %v", body)
	}
}

func TestAccessGating(t *testing.T) {
	env := setupServer(t, Config{})
	attendant := env.login(t, "attendant@example.com")
	cashier := env.login(t, "cashier@example.com")

	tests := []struct {
		name   string
		cookie *http.Cookie
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"attendant lists branches", attendant, http.MethodGet, "/api/branches", nil, http.StatusOK},
		{"attendant creates branch", attendant, http.MethodPost, "/api/branches", map[string]string{"name": "X"}, http.StatusForbidden},
		{"attendant opens POS", attendant, http.MethodGet, "/api/products", nil, http.StatusForbidden},
		{"attendant lists users", attendant, http.MethodGet, "/api/users", nil, http.StatusForbidden},
		{"attendant opens active list", attendant, http.MethodGet, "/api/checkin/active?branch_id=B1", nil, http.StatusOK},
		{"cashier opens POS", cashier, http.MethodGet, "/api/products", nil, http.StatusOK},
		{"cashier manages zones", cashier, http.MethodPost, "/api/zones", map[string]string{"branch_id": "B1", "zone_name": "Z"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body, tt.cookie)
			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodGet, "/api/access", nil, attendant)
	var body struct {
		Role    string   `json:"role"`
		Actions []string `json:"actions"`
	}
	decode(t, rec, &body)
	want := []string{"checkin", "dashboard", "guides", "zones"}
	if body.Role != "ATTENDANT" || strings.Join(body.Actions, ",") != strings.Join(want, ",") {
		t.Errorf("Unexpected access %+v", body)
	}
}

func TestProducts_ActiveOnly(t *testing.T) {
	env := setupServer(t, Config{})
	cashier := env.login(t, "cashier@example.com")

	var body struct {
		Count int `json:"count"`
	}
	decode(t, env.do(t, http.MethodGet, "/api/products", nil, cashier), &body)
	if body.Count != 1 {
		t.Errorf("Expected 1 active product, got %d", body.Count)
	}

	decode(t, env.do(t, http.MethodGet, "/api/products?all=true", nil, cashier), &body)
	if body.Count != 2 {
		t.Errorf("Expected 2 products with all=true, got %d", body.Count)
	}
}

func TestScanAndCheckIn(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodPost, "/api/checkin/scan", map[string]string{"card_number": " C1 ", "branch_id": "B1"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from scan, got %d: %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Status string `json:"status"`
		Action string `json:"action"`
	}
	decode(t, rec, &view)
	if view.Status != "READY_TO_CHECK_IN" || view.Action != "checkin" {
		t.Errorf("Unexpected view %+v", view)
	}

	rec = env.do(t, http.MethodGet, "/api/checkin/scan", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected stored scan, got %d", rec.Code)
	}

	before := env.upstream.activeCalls
	rec = env.do(t, http.MethodPost, "/api/checkin/checkin", nil, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201 from check-in, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := strings.Join(env.upstream.checkIns, ","); got != "C1/false" {
		t.Errorf("Unexpected check-in calls %q", got)
	}
	if env.upstream.activeCalls != before+1 {
		t.Errorf("Expected the active list to be refreshed after check-in")
	}

	rec = env.do(t, http.MethodGet, "/api/checkin/scan", nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected scan cleared after check-in, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/checkin/checkin", nil, cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 checking in without a scan, got %d", rec.Code)
	}
}

func TestLogout_ClearsScanResult(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodPost, "/api/checkin/scan", map[string]string{"card_number": "C1", "branch_id": "B1"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from scan, got %d: %s", rec.Code, rec.Body.String())
	}

	ctx := context.Background()
	if _, err := env.server.store.ScanStates().Get(ctx, cookie.Value); err != nil {
		t.Fatalf("Expected a stored scan result, got %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from logout, got %d", rec.Code)
	}

	if _, err := env.server.store.ScanStates().Get(ctx, cookie.Value); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected scan result cleared on logout, got %v", err)
	}
}

func TestScan_Validation(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodPost, "/api/checkin/scan", map[string]string{"card_number": "  ", "branch_id": "B1"}, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}
	var body struct {
		Fields []string `json:"fields"`
	}
	decode(t, rec, &body)
	if len(body.Fields) != 1 || body.Fields[0] != "card_number" {
		t.Errorf("Expected card_number field error, got %v", body.Fields)
	}
}

func TestScan_BusinessErrorIsRetryable(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodPost, "/api/checkin/scan", map[string]string{"card_number": "BLOCKED", "branch_id": "B1"}, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 with an ERROR view, got %d", rec.Code)
	}
	var view struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	decode(t, rec, &view)
	if view.Status != "ERROR" || view.Message != "Card blocked" {
		t.Errorf("Unexpected view %+v", view)
	}

	rec = env.do(t, http.MethodPost, "/api/checkin/scan/retry", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from retry, got %d", rec.Code)
	}
	decode(t, rec, &view)
	if view.Status != "ERROR" {
		t.Errorf("Expected retry to hit the same error, got %+v", view)
	}

	rec = env.do(t, http.MethodPost, "/api/checkin/checkin", nil, cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 checking in an ERROR scan, got %d", rec.Code)
	}
}

func TestCheckOutSession(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "cashier@example.com")

	rec := env.do(t, http.MethodPost, "/api/sessions/S1/checkout?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var summary apiclient.CheckoutSummary
	decode(t, rec, &summary)
	if summary.OverdueMinutes != 30 || summary.OverdueAmount != 25 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	rec = env.do(t, http.MethodPost, "/api/sessions/S9/checkout?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusConflict {
		t.Fatalf("Expected upstream 409 to pass through, got %d", rec.Code)
	}
	var errResp struct {
		Message string `json:"message"`
	}
	decode(t, rec, &errResp)
	if errResp.Message != "Session already closed" {
		t.Errorf("Expected upstream detail, got %q", errResp.Message)
	}
}

func TestActive(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "attendant@example.com")

	rec := env.do(t, http.MethodGet, "/api/checkin/active?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var board feed.Board
	decode(t, rec, &board)
	if len(board.Rows) != 2 || board.Rows[0].Session.SessionID != "S1" {
		t.Fatalf("Unexpected rows %+v", board.Rows)
	}
	if !board.Rows[0].Meta.IsOverdue || board.Rows[0].Meta.Overdue != 30 || board.OverdueCount != 1 {
		t.Errorf("Expected S1 overdue by 30, got %+v", board.Rows[0].Meta)
	}

	rec = env.do(t, http.MethodGet, "/api/checkin/active", nil, cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without branch, got %d", rec.Code)
	}
}

func TestActive_UpstreamFailure(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "attendant@example.com")
	env.upstream.activeStatus = http.StatusInternalServerError

	rec := env.do(t, http.MethodGet, "/api/checkin/active?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/checkin/active/refresh?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected 502 from explicit refresh, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := setupServer(t, Config{RateLimit: 60, RateLimitBurst: 2})
	cookie := env.login(t, "cashier@example.com")

	for i := 0; i < 2; i++ {
		if rec := env.do(t, http.MethodGet, "/api/auth/me", nil, cookie); rec.Code != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Errorf("Expected Retry-After header")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := setupServer(t, Config{AllowedOrigins: []string{"https://desk.example"}})

	tests := []struct {
		path       string
		origin     string
		wantOrigin string
	}{
		{"/api/auth/login", "https://desk.example", "https://desk.example"},
		{"/api/checkin/scan", "https://desk.example", "https://desk.example"},
		{"/api/checkin/checkin", "https://desk.example", "https://desk.example"},
		{"/api/orders/O1/pay", "https://desk.example", "https://desk.example"},
		{"/api/checkin/scan", "https://evil.example", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path+" "+tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, tt.path, nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusNoContent {
				t.Errorf("Expected 204, got %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORS_SignedInRequest(t *testing.T) {
	env := setupServer(t, Config{AllowedOrigins: []string{"https://desk.example"}})
	cookie := env.login(t, "cashier@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Origin", "https://desk.example")
	req.AddCookie(cookie)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://desk.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q", got)
	}
}

func TestBoardPage(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "attendant@example.com")

	rec := env.do(t, http.MethodGet, "/board", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected HTML, got %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{"Lina", "Omar", `class="overdue"`, "Overdue 30m", `value="B1" selected`} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected board to contain %q", want)
		}
	}
}

func TestBoardPage_ShowsStaleListOnFailure(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "attendant@example.com")

	if rec := env.do(t, http.MethodGet, "/board?branch_id=B1", nil, cookie); rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	env.upstream.mu.Lock()
	env.upstream.activeStatus = http.StatusInternalServerError
	env.upstream.mu.Unlock()

	rec := env.do(t, http.MethodGet, "/board?branch_id=B1", nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected last known list with 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Lina") || !strings.Contains(body, "database down") {
		t.Errorf("Expected cached rows and the error, got %s", body)
	}
}

func TestStream(t *testing.T) {
	env := setupServer(t, Config{})
	cookie := env.login(t, "attendant@example.com")

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/checkin/active/stream?branch_id=B1", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected event stream, got %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	events := 0
	for events < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			var board feed.Board
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &board); err != nil {
				t.Fatalf("Bad event payload %q: %v", line, err)
			}
			if board.BranchID != "B1" || len(board.Rows) != 2 {
				t.Errorf("Unexpected board %+v", board)
			}
			events++
		}
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{0: "0m", 45: "45m", 60: "1h 00m", 125: "2h 05m"}
	for in, want := range tests {
		if got := formatMinutes(in); got != want {
			t.Errorf("formatMinutes(%d) = %q, want %q", in, got, want)
		}
	}
}
