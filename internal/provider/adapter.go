// Package provider implements the adapters that talk to external fitness
// platforms: OAuth consent URLs, code exchange, token refresh, and one-page
// activity fetches.
package provider

import (
	"context"
	"encoding/json"
	"time"

	"example.com/integrations/internal/domain"
)

// TokenGrant is the result of a code exchange or token refresh.
type TokenGrant struct {
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
	ProviderAccountID string
}

// RawActivity is one provider-native activity record, lightly parsed. The
// normalizer converts it to the canonical schema; Payload keeps the original
// response verbatim.
type RawActivity struct {
	ExternalID     string
	Type           string
	StartedAt      time.Time
	DurationSec    int
	DistanceMeters float64
	Calories       *int
	AvgHeartRate   *int
	MaxHeartRate   *int
	ElevationGainM *float64
	Notes          string
	Payload        json.RawMessage
}

// Page is a single bounded fetch result. Note is populated by providers
// that cannot serve the pull model at all (companion-app-only platforms);
// such a page is always empty and is not an error.
type Page struct {
	Activities []RawActivity
	Note       string
}

// Adapter is implemented once per external platform. Adapters hold no
// state between calls beyond their configuration; every method is a plain
// network round trip.
type Adapter interface {
	Provider() domain.Provider

	// AuthorizationURL builds the provider consent URL with the scopes
	// needed to read activity data. state carries the anti-CSRF token.
	AuthorizationURL(state, redirectURI string) string

	// ExchangeCode performs the one-shot authorization-code exchange.
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error)

	// RefreshToken obtains a fresh access token. On failure the caller must
	// deactivate the connection; the refresh token is stale or revoked.
	RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error)

	// FetchActivities returns at most pageSize activities started after
	// since, in provider order.
	FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error)
}
