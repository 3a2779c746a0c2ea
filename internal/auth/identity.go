package auth

import (
	"context"
	"time"

	"github.com/goodtune/playdesk/internal/storage"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const contextKeyIdentity contextKey = "identity"

// Identity is the signed-in staff member a request acts for. It is built
// from the console session on every request and never modified.
type Identity struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	BranchID  string    `json:"branch_id"`
	ExpiresAt time.Time `json:"expires_at"`

	token string
}

// Token returns the API bearer token of the identity.
func (i *Identity) Token() string {
	return i.token
}

func identityFromSession(s *storage.ConsoleSession) *Identity {
	return &Identity{
		SessionID: s.ID,
		UserID:    s.UserID,
		Email:     s.Email,
		Name:      s.Name,
		Role:      s.Role,
		BranchID:  s.BranchID,
		ExpiresAt: s.ExpiresAt,
		token:     s.Token,
	}
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// FromContext extracts the identity from ctx.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(*Identity)
	return id, ok && id != nil
}
