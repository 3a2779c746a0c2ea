package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PaymentType is how a check-in session was paid for.
type PaymentType string

const (
	PaymentHourly       PaymentType = "HOURLY"
	PaymentSubscription PaymentType = "SUBSCRIPTION"
	PaymentVisitPack    PaymentType = "VISIT_PACK"
)

// UnmarshalJSON implements json.Unmarshaler to normalize payment type to uppercase.
func (p *PaymentType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := PaymentType(strings.ToUpper(s))

	switch normalized {
	case PaymentHourly, PaymentSubscription, PaymentVisitPack:
		*p = normalized
		return nil
	case "":
		*p = PaymentHourly
		return nil
	default:
		return fmt.Errorf("invalid payment type: %s (must be HOURLY, SUBSCRIPTION, or VISIT_PACK)", s)
	}
}

// localTimestamp is the API's timestamp layout when it omits the offset.
const localTimestamp = "2006-01-02T15:04:05.999999999"

// ParseTimestamp parses an API timestamp. RFC 3339 values keep their offset;
// values without an offset are taken as UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localTimestamp, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
	}
	return t, nil
}

func unmarshalTimestamp(raw *string, dst *time.Time) error {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := ParseTimestamp(*raw)
	if err != nil {
		return err
	}
	*dst = t
	return nil
}

// Session is an active (or just closed) check-in session as returned by the API.
type Session struct {
	SessionID       string      `json:"session_id"`
	CustomerID      string      `json:"customer_id,omitempty"`
	CardNumber      string      `json:"card_number,omitempty"`
	BranchID        string      `json:"branch_id,omitempty"`
	ChildName       string      `json:"child_name"`
	GuardianName    string      `json:"guardian_name"`
	GuardianPhone   string      `json:"guardian_phone,omitempty"`
	CheckInTime     time.Time   `json:"check_in_time"`
	IncludedMinutes int         `json:"included_minutes,omitempty"`
	ElapsedMinutes  *int        `json:"elapsed_minutes,omitempty"`
	PaymentType     PaymentType `json:"payment_type"`
	Status          string      `json:"status,omitempty"`
}

// UnmarshalJSON accepts check-in times with or without a UTC offset.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var aux struct {
		plain
		CheckInTime *string `json:"check_in_time"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Session(aux.plain)
	return unmarshalTimestamp(aux.CheckInTime, &s.CheckInTime)
}

// Guardian is the responsible adult attached to a customer record.
type Guardian struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Customer is a registered child/card holder.
type Customer struct {
	CustomerID     string   `json:"customer_id"`
	CardNumber     string   `json:"card_number"`
	ChildName      string   `json:"child_name"`
	ChildDOB       string   `json:"child_dob,omitempty"`
	ChildAgeMonths int      `json:"child_age_months,omitempty"`
	Guardian       Guardian `json:"guardian"`
	WaiverAccepted bool     `json:"waiver_accepted"`
	TotalVisits    int      `json:"total_visits,omitempty"`
	BranchID       string   `json:"branch_id,omitempty"`
}

// SubscriptionInfo summarises an active subscription on a scan response.
type SubscriptionInfo struct {
	SubscriptionID string `json:"subscription_id"`
	ExpiresAt      string `json:"expires_at"`
	DaysRemaining  int    `json:"days_remaining"`
}

// ScanRequest is the body of POST /checkin/scan and POST /checkin.
type ScanRequest struct {
	CardNumber string `json:"card_number"`
	BranchID   string `json:"branch_id"`
}

// ScanResponse is the raw scan payload. Status is left as a string here and
// parsed by the caller.
type ScanResponse struct {
	Status          string            `json:"status"`
	Message         string            `json:"message"`
	CardNumber      string            `json:"card_number"`
	Customer        *Customer         `json:"customer"`
	ActiveSession   *Session          `json:"active_session"`
	HasSubscription bool              `json:"has_subscription"`
	Subscription    *SubscriptionInfo `json:"subscription,omitempty"`
}

// CheckoutSummary is returned by POST /checkin/{id}/checkout.
type CheckoutSummary struct {
	SessionID           string  `json:"session_id"`
	Status              string  `json:"status"`
	ChildName           string  `json:"child_name,omitempty"`
	DurationMinutes     int     `json:"duration_minutes"`
	IncludedMinutes     int     `json:"included_minutes"`
	OverdueMinutes      int     `json:"overdue_minutes"`
	OverdueAmount       float64 `json:"overdue_amount"`
	OverdueHoursCharged int     `json:"overdue_hours_charged,omitempty"`
	OvertimeOrderNumber string  `json:"overtime_order_number,omitempty"`
	OvertimeOrderID     string  `json:"overtime_order_id,omitempty"`
}

// RegisterCustomerRequest is the body of POST /customers.
type RegisterCustomerRequest struct {
	CardNumber string   `json:"card_number"`
	ChildName  string   `json:"child_name"`
	ChildDOB   string   `json:"child_dob"`
	Guardian   Guardian `json:"guardian"`
	BranchID   string   `json:"branch_id"`
}

// WaiverRequest is the body of POST /customers/{id}/waiver.
type WaiverRequest struct {
	CustomerID    string `json:"customer_id"`
	AcceptedTerms bool   `json:"accepted_terms"`
}

// BranchSettings holds per-branch defaults.
type BranchSettings struct {
	DefaultGracePeriodMinutes int     `json:"default_grace_period_minutes"`
	Currency                  string  `json:"currency"`
	TaxRate                   float64 `json:"tax_rate"`
	LanguageDefault           string  `json:"language_default"`
}

// Branch is a physical facility location.
type Branch struct {
	BranchID string          `json:"branch_id,omitempty"`
	Name     string          `json:"name"`
	NameAr   string          `json:"name_ar"`
	Address  string          `json:"address,omitempty"`
	City     string          `json:"city,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Email    string          `json:"email,omitempty"`
	Timezone string          `json:"timezone,omitempty"`
	Settings *BranchSettings `json:"settings,omitempty"`
	Status   string          `json:"status,omitempty"`
}

// Zone is a play area inside a branch.
type Zone struct {
	ZoneID               string  `json:"zone_id,omitempty"`
	BranchID             string  `json:"branch_id"`
	ZoneName             string  `json:"zone_name"`
	ZoneNameAr           string  `json:"zone_name_ar"`
	ZoneType             string  `json:"zone_type"`
	CapacityPerSlot      int     `json:"capacity_per_slot"`
	SessionLengthMinutes int     `json:"session_length_minutes,omitempty"`
	GracePeriodMinutes   int     `json:"grace_period_minutes,omitempty"`
	OverdueRatePer15Min  float64 `json:"overdue_rate_per_15min,omitempty"`
	Status               string  `json:"status,omitempty"`
}

// User is a staff account.
type User struct {
	UserID            string `json:"user_id,omitempty"`
	Email             string `json:"email"`
	Name              string `json:"name"`
	Phone             string `json:"phone,omitempty"`
	Role              string `json:"role"`
	BranchID          string `json:"branch_id,omitempty"`
	PreferredLanguage string `json:"preferred_language,omitempty"`
	Status            string `json:"status,omitempty"`
	Password          string `json:"password,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /auth/login.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	User        User      `json:"user"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// UnmarshalJSON accepts an expiry with or without a UTC offset.
func (r *LoginResponse) UnmarshalJSON(data []byte) error {
	type plain LoginResponse
	var aux struct {
		plain
		ExpiresAt *string `json:"expires_at"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = LoginResponse(aux.plain)
	return unmarshalTimestamp(aux.ExpiresAt, &r.ExpiresAt)
}

// Product is a sellable POS item.
type Product struct {
	ProductID string  `json:"product_id"`
	NameEn    string  `json:"name_en"`
	NameAr    string  `json:"name_ar"`
	Category  string  `json:"category"`
	Price     float64 `json:"price"`
	IsActive  bool    `json:"is_active"`
}

// OrderItem is one POS order line.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

// OrderRequest is the body of POST /orders.
type OrderRequest struct {
	BranchID   string      `json:"branch_id,omitempty"`
	GuardianID string      `json:"guardian_id,omitempty"`
	ChildID    string      `json:"child_id,omitempty"`
	Items      []OrderItem `json:"items"`
	Notes      string      `json:"notes,omitempty"`
}

// PaymentRequest is the body of POST /orders/{id}/pay.
type PaymentRequest struct {
	PaymentMethod string  `json:"payment_method"`
	Amount        float64 `json:"amount,omitempty"`
}

// Order is a POS order as returned by the API. Line items are passed
// through untouched.
type Order struct {
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	Subtotal      float64         `json:"subtotal"`
	TaxAmount     float64         `json:"tax_amount"`
	TotalAmount   float64         `json:"total_amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Items         json.RawMessage `json:"items,omitempty"`
}
