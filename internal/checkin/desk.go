package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/playdesk/internal/apiclient"
	"github.com/goodtune/playdesk/internal/metrics"
	"github.com/goodtune/playdesk/internal/storage"
	"github.com/rs/zerolog"
)

// API is the part of the play-area API the desk flow needs.
type API interface {
	Scan(ctx context.Context, req apiclient.ScanRequest) (*apiclient.ScanResponse, error)
	CheckIn(ctx context.Context, req apiclient.ScanRequest, useSubscription bool) (*apiclient.Session, error)
	CheckOut(ctx context.Context, sessionID string) (*apiclient.CheckoutSummary, error)
	RegisterCustomer(ctx context.Context, req apiclient.RegisterCustomerRequest) (*apiclient.Customer, error)
	AcceptWaiver(ctx context.Context, req apiclient.WaiverRequest) error
}

// Refresher re-fetches the active session list for a branch.
type Refresher interface {
	Refresh(ctx context.Context, branchID string) error
}

// RegistrationForm is the input of the registration dialog.
type RegistrationForm struct {
	ChildName     string `json:"child_name"`
	ChildDOB      string `json:"child_dob"`
	GuardianName  string `json:"guardian_name"`
	GuardianPhone string `json:"guardian_phone"`
}

// Validate checks the required registration fields.
func (f RegistrationForm) Validate() error {
	var missing []string
	if strings.TrimSpace(f.ChildName) == "" {
		missing = append(missing, "child_name")
	}
	if strings.TrimSpace(f.ChildDOB) == "" {
		missing = append(missing, "child_dob")
	}
	if strings.TrimSpace(f.GuardianName) == "" {
		missing = append(missing, "guardian_name")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Message: "required fields missing"}
	}
	return nil
}

const (
	defaultScanError     = "Scan failed"
	defaultWaiverMessage = "Guardian must accept the liability waiver"
)

// Desk runs the scan / check-in / check-out flow for one operator. The
// operator's scan result lives in the state store under key; every write
// replaces it entirely.
type Desk struct {
	api    API
	states storage.ScanStateStore
	key    string
	ttl    time.Duration
	feed   Refresher
	logger zerolog.Logger
}

// NewDesk creates a desk flow for the operator identified by key. feed may
// be nil when no active list is shown.
func NewDesk(api API, states storage.ScanStateStore, key string, ttl time.Duration, feed Refresher, logger zerolog.Logger) *Desk {
	return &Desk{
		api:    api,
		states: states,
		key:    key,
		ttl:    ttl,
		feed:   feed,
		logger: logger.With().Str("component", "desk").Logger(),
	}
}

// Scan submits a card at a branch and stores the outcome. Empty input is
// rejected before any request. A failed request is stored as an ERROR result
// that keeps the card and branch so it can be retried.
func (d *Desk) Scan(ctx context.Context, cardNumber, branchID string) (View, error) {
	cardNumber = strings.TrimSpace(cardNumber)
	if cardNumber == "" {
		return View{}, &ValidationError{Fields: []string{"card_number"}, Message: "card number is required"}
	}
	if branchID == "" {
		return View{}, &ValidationError{Fields: []string{"branch_id"}, Message: "no branch selected"}
	}

	var result ScanResult
	resp, err := d.api.Scan(ctx, apiclient.ScanRequest{CardNumber: cardNumber, BranchID: branchID})
	if err != nil {
		d.logger.Warn().
			Err(err).
			Str("card", cardNumber).
			Str("branch", branchID).
			Msg("Scan request failed")
		result = ErrorResult(apiclient.DetailOf(err, defaultScanError), cardNumber, branchID)
	} else {
		result = FromResponse(resp, cardNumber, branchID)
	}

	if err := d.save(ctx, result); err != nil {
		return View{}, err
	}

	view := Resolve(result)
	metrics.ScansTotal.WithLabelValues(string(view.Status)).Inc()

	d.logger.Debug().
		Str("card", cardNumber).
		Str("branch", branchID).
		Str("status", string(view.Status)).
		Msg("Card scanned")

	return view, nil
}

// Retry issues the stored scan again.
func (d *Desk) Retry(ctx context.Context) (View, error) {
	result, err := d.load(ctx)
	if err != nil {
		return View{}, err
	}
	return d.Scan(ctx, result.CardNumber, result.BranchID)
}

// CheckIn opens a session for the scanned card. The subscription path is
// used exactly when the scan reported an active subscription.
func (d *Desk) CheckIn(ctx context.Context) (*apiclient.Session, error) {
	result, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	if result.Status != StatusReadyToCheckIn {
		return nil, invalidState("check-in", StatusReadyToCheckIn, result.Status)
	}
	if result.Customer == nil {
		return nil, fmt.Errorf("%w: check-in requires a customer", ErrInvalidState)
	}

	session, err := d.api.CheckIn(ctx, apiclient.ScanRequest{
		CardNumber: result.CardNumber,
		BranchID:   result.BranchID,
	}, result.HasSubscription)
	if err != nil {
		return nil, fmt.Errorf("check-in failed: %w", err)
	}

	payment := "hourly"
	if result.HasSubscription {
		payment = "subscription"
	}
	metrics.CheckInsTotal.WithLabelValues(payment).Inc()

	if err := d.clear(ctx); err != nil {
		return session, err
	}
	d.refresh(ctx, result.BranchID)

	return session, nil
}

// CheckOut closes the active session of the scanned card.
func (d *Desk) CheckOut(ctx context.Context) (*apiclient.CheckoutSummary, error) {
	result, err := d.load(ctx)
	if err != nil {
		return nil, err
	}
	view := Resolve(result)
	if view.Action != ActionCheckOut {
		return nil, invalidState("check-out", StatusAlreadyCheckedIn, view.Status)
	}

	return d.checkOut(ctx, view.SessionID, result.BranchID)
}

// CheckOutSession closes a session picked from the active list.
func (d *Desk) CheckOutSession(ctx context.Context, sessionID, branchID string) (*apiclient.CheckoutSummary, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, &ValidationError{Fields: []string{"session_id"}, Message: "session id is required"}
	}
	return d.checkOut(ctx, sessionID, branchID)
}

func (d *Desk) checkOut(ctx context.Context, sessionID, branchID string) (*apiclient.CheckoutSummary, error) {
	summary, err := d.api.CheckOut(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("check-out failed: %w", err)
	}

	metrics.CheckOutsTotal.WithLabelValues(fmt.Sprintf("%t", summary.OverdueAmount > 0)).Inc()

	if err := d.clear(ctx); err != nil {
		return summary, err
	}
	if branchID != "" {
		d.refresh(ctx, branchID)
	}

	return summary, nil
}

// Register creates a customer for a new card. On success the result is
// replaced by WAIVER_REQUIRED carrying the created customer.
func (d *Desk) Register(ctx context.Context, form RegistrationForm) (View, error) {
	result, err := d.load(ctx)
	if err != nil {
		return View{}, err
	}
	if result.Status != StatusNewCard {
		return View{}, invalidState("registration", StatusNewCard, result.Status)
	}
	if err := form.Validate(); err != nil {
		return View{}, err
	}

	customer, err := d.api.RegisterCustomer(ctx, apiclient.RegisterCustomerRequest{
		CardNumber: result.CardNumber,
		ChildName:  strings.TrimSpace(form.ChildName),
		ChildDOB:   strings.TrimSpace(form.ChildDOB),
		Guardian: apiclient.Guardian{
			Name:  strings.TrimSpace(form.GuardianName),
			Phone: strings.TrimSpace(form.GuardianPhone),
		},
		BranchID: result.BranchID,
	})
	if err != nil {
		return View{}, fmt.Errorf("registration failed: %w", err)
	}

	next := ScanResult{
		Status:     StatusWaiverRequired,
		Message:    defaultWaiverMessage,
		CardNumber: result.CardNumber,
		BranchID:   result.BranchID,
		Customer:   customer,
	}
	if err := d.save(ctx, next); err != nil {
		return View{}, err
	}

	return Resolve(next), nil
}

// AcceptWaiver records the waiver for the current customer and then scans the
// same card at the same branch once more to obtain the post-waiver status.
func (d *Desk) AcceptWaiver(ctx context.Context) (View, error) {
	result, err := d.load(ctx)
	if err != nil {
		return View{}, err
	}
	if result.Status != StatusWaiverRequired {
		return View{}, invalidState("waiver acceptance", StatusWaiverRequired, result.Status)
	}
	if result.Customer == nil || result.Customer.CustomerID == "" {
		return View{}, fmt.Errorf("%w: waiver acceptance requires a customer", ErrInvalidState)
	}

	err = d.api.AcceptWaiver(ctx, apiclient.WaiverRequest{
		CustomerID:    result.Customer.CustomerID,
		AcceptedTerms: true,
	})
	if err != nil {
		return View{}, fmt.Errorf("waiver acceptance failed: %w", err)
	}

	return d.Scan(ctx, result.CardNumber, result.BranchID)
}

// Cancel discards the current scan result.
func (d *Desk) Cancel(ctx context.Context) error {
	return d.clear(ctx)
}

// Current returns the stored scan result resolved into a view.
func (d *Desk) Current(ctx context.Context) (View, error) {
	result, err := d.load(ctx)
	if err != nil {
		return View{}, err
	}
	return Resolve(result), nil
}

func (d *Desk) refresh(ctx context.Context, branchID string) {
	if d.feed == nil {
		return
	}
	if err := d.feed.Refresh(ctx, branchID); err != nil {
		d.logger.Warn().Err(err).Str("branch", branchID).Msg("Failed to refresh active sessions")
	}
}

func (d *Desk) load(ctx context.Context) (ScanResult, error) {
	data, err := d.states.Get(ctx, d.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ScanResult{}, ErrNoScan
		}
		return ScanResult{}, fmt.Errorf("failed to load scan result: %w", err)
	}

	var result ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return ScanResult{}, fmt.Errorf("failed to decode scan result: %w", err)
	}
	return result, nil
}

func (d *Desk) save(ctx context.Context, result ScanResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode scan result: %w", err)
	}
	if err := d.states.Put(ctx, d.key, data, d.ttl); err != nil {
		return fmt.Errorf("failed to store scan result: %w", err)
	}
	return nil
}

func (d *Desk) clear(ctx context.Context) error {
	if err := d.states.Delete(ctx, d.key); err != nil {
		return fmt.Errorf("failed to clear scan result: %w", err)
	}
	return nil
}
