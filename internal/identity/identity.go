// Package identity resolves the user id attached to every read and write.
package identity

import (
	"context"

	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/uuid"
)

// DefaultFallbackUserID is used when no session exists and nothing else is
// configured. Every instance resolves to the same id so unauthenticated
// devices share one data set.
const DefaultFallbackUserID = "00000000-0000-4000-8000-000000000001"

// User is the signed-in user.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Sessions reports the current user, or nil when nobody is signed in.
type Sessions interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// NoSession never has a user.
type NoSession struct{}

// CurrentUser returns nil.
func (NoSession) CurrentUser(context.Context) (*User, error) {
	return nil, nil
}

// StaticSession always returns the configured user. An empty ID means no
// session.
type StaticSession User

// CurrentUser returns the user, or nil when ID is empty.
func (s StaticSession) CurrentUser(context.Context) (*User, error) {
	if s.ID == "" {
		return nil, nil
	}
	u := User(s)
	return &u, nil
}

// Resolver maps the current session to a user id.
type Resolver struct {
	sessions Sessions
	fallback string
}

// NewResolver creates a Resolver. An empty or malformed fallback is replaced
// by DefaultFallbackUserID; a valid one is lowercased.
func NewResolver(sessions Sessions, fallback string) *Resolver {
	if sessions == nil {
		sessions = NoSession{}
	}
	id, err := uuid.Normalize(fallback)
	if err != nil {
		id = DefaultFallbackUserID
	}
	return &Resolver{sessions: sessions, fallback: id}
}

// Fallback returns the id used without a session.
func (r *Resolver) Fallback() string {
	return r.fallback
}

// ResolveUserID returns the signed-in user's id, or the fallback id when
// there is no session or the lookup fails. It never fails.
func (r *Resolver) ResolveUserID(ctx context.Context) string {
	u, err := r.sessions.CurrentUser(ctx)
	if err != nil {
		logging.Debug("Session lookup failed, using fallback user", map[string]interface{}{
			"error":    err.Error(),
			"fallback": r.fallback,
		})
		return r.fallback
	}
	if u == nil || u.ID == "" {
		return r.fallback
	}
	return u.ID
}
