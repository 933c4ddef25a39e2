package domain

import (
	"context"
	"time"
)

// Connection is the stored OAuth link between a user and a provider.
// At most one active row exists per (tenant, user, provider); a new
// authorization for the same pair supersedes the previous row.
type Connection struct {
	ID                string
	TenantID          string
	UserID            string
	Provider          Provider
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    time.Time
	ProviderAccountID string
	Active            bool
	LastSyncedAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TokenExpired reports whether the access token needs a refresh before use.
// A small skew keeps us from handing a token to a provider moments before
// it lapses mid-request.
func (c *Connection) TokenExpired(now time.Time) bool {
	if c.TokenExpiresAt.IsZero() {
		return false
	}
	return !now.Add(tokenExpirySkew).Before(c.TokenExpiresAt)
}

const tokenExpirySkew = 2 * time.Minute

// ConnectionStore captures persistence operations for connections.
type ConnectionStore interface {
	// FindActive returns the active connection for the pair, or nil.
	FindActive(ctx context.Context, tenantID, userID string, provider Provider) (*Connection, error)
	// Upsert inserts or replaces the row keyed by (tenant, user, provider).
	Upsert(ctx context.Context, conn Connection) (*Connection, error)
	// UpdateTokens persists refreshed token material.
	UpdateTokens(ctx context.Context, connectionID string, accessToken, refreshToken string, expiresAt time.Time) error
	// Deactivate clears the active flag; idempotent.
	Deactivate(ctx context.Context, tenantID, userID string, provider Provider) error
	// TouchLastSynced records a successful sync completion time.
	TouchLastSynced(ctx context.Context, connectionID string, at time.Time) error
	// ListActive returns every active connection, for scheduler fan-out.
	ListActive(ctx context.Context) ([]Connection, error)
	// ListForUser returns connections (active or not) for one user.
	ListForUser(ctx context.Context, tenantID, userID string) ([]Connection, error)
}
