package checkin

import (
	"encoding/json"
	"fmt"

	"github.com/goodtune/playdesk/internal/apiclient"
)

// Status is the outcome of a card scan. Exactly one status is active at a time.
type Status string

const (
	StatusReadyToCheckIn   Status = "READY_TO_CHECK_IN"
	StatusAlreadyCheckedIn Status = "ALREADY_CHECKED_IN"
	StatusNewCard          Status = "NEW_CARD"
	StatusWaiverRequired   Status = "WAIVER_REQUIRED"
	StatusError            Status = "ERROR"
)

// ParseStatus maps a server status tag to a Status. Unknown tags are an error.
func ParseStatus(tag string) (Status, error) {
	switch s := Status(tag); s {
	case StatusReadyToCheckIn, StatusAlreadyCheckedIn, StatusNewCard, StatusWaiverRequired, StatusError:
		return s, nil
	default:
		return "", fmt.Errorf("unknown scan status %q", tag)
	}
}

// UnmarshalJSON implements json.Unmarshaler and rejects unknown tags.
func (s *Status) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}
	parsed, err := ParseStatus(tag)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ScanResult is the operator's current scan outcome. It is only ever replaced
// as a whole, never patched.
type ScanResult struct {
	Status          Status                      `json:"status"`
	Message         string                      `json:"message"`
	CardNumber      string                      `json:"card_number"`
	BranchID        string                      `json:"branch_id"`
	Customer        *apiclient.Customer         `json:"customer,omitempty"`
	ActiveSession   *apiclient.Session          `json:"active_session,omitempty"`
	HasSubscription bool                        `json:"has_subscription"`
	Subscription    *apiclient.SubscriptionInfo `json:"subscription,omitempty"`
}

// FromResponse builds a ScanResult from a raw scan response. The card and
// branch of the request are kept so the same scan can be issued again. An
// unrecognised status tag yields an ERROR result naming the tag.
func FromResponse(resp *apiclient.ScanResponse, cardNumber, branchID string) ScanResult {
	status, err := ParseStatus(resp.Status)
	if err != nil {
		return ScanResult{
			Status:     StatusError,
			Message:    err.Error(),
			CardNumber: cardNumber,
			BranchID:   branchID,
		}
	}

	result := ScanResult{
		Status:          status,
		Message:         resp.Message,
		CardNumber:      cardNumber,
		BranchID:        branchID,
		Customer:        resp.Customer,
		HasSubscription: resp.HasSubscription,
		Subscription:    resp.Subscription,
	}
	if resp.CardNumber != "" {
		result.CardNumber = resp.CardNumber
	}
	if status == StatusAlreadyCheckedIn {
		result.ActiveSession = resp.ActiveSession
	}

	return result
}

// ErrorResult builds the ERROR result shown when a scan could not be completed.
func ErrorResult(message, cardNumber, branchID string) ScanResult {
	return ScanResult{
		Status:     StatusError,
		Message:    message,
		CardNumber: cardNumber,
		BranchID:   branchID,
	}
}
