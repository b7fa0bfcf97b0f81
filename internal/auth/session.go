package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wanderlustcms/api/internal/clock"
)

// SessionStore persists the single refresh-token/expiry pair each account
// holds. Save overwrites whatever token the account had before, which is
// what invalidates the previous value on rotation.
type SessionStore interface {
	SaveRefreshToken(ctx context.Context, accountID uuid.UUID, token string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, accountID uuid.UUID) error
}

// Session is the result of a login or refresh exchange.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// SessionManager drives the session lifecycle:
//
//	Anonymous -> Authenticated -> Refreshed -> LoggedOut
//
// Each successful login or refresh rotates the refresh token; presenting
// an absent, mismatched or expired value fails closed and produces no new
// tokens.
type SessionManager struct {
	issuer     *Issuer
	store      SessionStore
	refreshTTL time.Duration
	clk        clock.Clock
}

func NewSessionManager(issuer *Issuer, store SessionStore, refreshTTL time.Duration, clk clock.Clock) *SessionManager {
	return &SessionManager{
		issuer:     issuer,
		store:      store,
		refreshTTL: refreshTTL,
		clk:        clk,
	}
}

// CreateOrRotateSession issues a new access/refresh pair and persists the
// refresh token, displacing any previous one.
//
// Two concurrent refresh calls for the same account can both pass the
// store lookup and each persist its own token here; the later write wins
// and the earlier pair dies on next use. That race is accepted: the net
// effect is "most recent refresh wins", not a privilege gain, and closing
// it would require transactional coupling with the store that this
// subsystem deliberately does not assume.
func (m *SessionManager) CreateOrRotateSession(ctx context.Context, sub Subject) (*Session, error) {
	accessToken, err := m.issuer.IssueAccessToken(sub)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, err := m.issuer.IssueRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	if err := m.store.SaveRefreshToken(ctx, sub.ID, refreshToken, m.clk.Now().Add(m.refreshTTL)); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	expiresAt, err := m.issuer.GetExpiry(accessToken)
	if err != nil {
		return nil, fmt.Errorf("read access token expiry: %w", err)
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// RefreshTokenValid reports whether a stored expiry is still in the
// future. A zero expiry means no token is stored, which also fails.
func (m *SessionManager) RefreshTokenValid(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return expiresAt.After(m.clk.Now())
}

// InvalidateSession clears the stored refresh token. The access token
// stays valid until its natural expiry: access tokens are self-contained
// and not revocable mid-lifetime.
func (m *SessionManager) InvalidateSession(ctx context.Context, accountID uuid.UUID) error {
	if err := m.store.ClearRefreshToken(ctx, accountID); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}
