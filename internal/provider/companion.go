package provider

import (
	"context"
	"time"

	"example.com/integrations/internal/domain"
)

// Companion covers platforms whose activity stores live on the phone and
// are only reachable through a native companion app (Samsung Health, Apple
// Health). The OAuth half of the contract works normally so an account link
// can be recorded; the pull half deliberately returns an empty page with an
// explanatory note. This is a capability gap of the platforms, not a bug.
type Companion struct {
	oauthClient
	note string
}

// NewSamsungHealth constructs the Samsung Health companion adapter.
func NewSamsungHealth(creds Credentials, opts ...Option) *Companion {
	return &Companion{
		oauthClient: newOAuthClient(domain.ProviderSamsungHealth, creds, endpoints{
			AuthorizeURL: "https://account.samsung.com/accounts/v1/oauth2/authorize",
			TokenURL:     "https://account.samsung.com/accounts/v1/oauth2/token",
			APIBaseURL:   "https://shealth-api.samsunghealth.com",
		}, opts...),
		note: "samsung health data syncs through the native companion app; server-side pull is not available",
	}
}

// NewAppleHealth constructs the Apple Health companion adapter.
func NewAppleHealth(creds Credentials, opts ...Option) *Companion {
	return &Companion{
		oauthClient: newOAuthClient(domain.ProviderAppleHealth, creds, endpoints{
			AuthorizeURL: "https://appleid.apple.com/auth/authorize",
			TokenURL:     "https://appleid.apple.com/auth/token",
			APIBaseURL:   "https://appleid.apple.com",
		}, opts...),
		note: "apple health data syncs through the native companion app; server-side pull is not available",
	}
}

func (c *Companion) Provider() domain.Provider { return c.provider }

func (c *Companion) AuthorizationURL(state, redirectURI string) string {
	return c.authorizeURL(state, redirectURI, "", nil)
}

func (c *Companion) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	return exchangeGeneric(ctx, &c.oauthClient, code, redirectURI)
}

func (c *Companion) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	return refreshGeneric(ctx, &c.oauthClient, conn)
}

// FetchActivities always returns an empty page carrying the companion-app
// note. The orchestrator records a completed run with zero counts.
func (c *Companion) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	return &Page{Note: c.note}, nil
}
