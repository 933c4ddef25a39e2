package provider

import (
	"fmt"
	"time"

	"example.com/integrations/internal/domain"
)

// OAuthExchangeError reports a rejected authorization-code exchange.
type OAuthExchangeError struct {
	Provider   domain.Provider
	StatusCode int
	Body       string
}

func (e *OAuthExchangeError) Error() string {
	return fmt.Sprintf("%s: code exchange rejected (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// TokenRefreshError reports a rejected refresh token. The connection is no
// longer usable; callers deactivate it and require re-authorization.
type TokenRefreshError struct {
	Provider   domain.Provider
	StatusCode int
	Body       string
}

func (e *TokenRefreshError) Error() string {
	return fmt.Sprintf("%s: token refresh rejected (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// RateLimitedError reports a provider 429. Transient; the connection stays
// active and retry policy belongs to the scheduler.
type RateLimitedError struct {
	Provider   domain.Provider
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// FetchError reports any other failed activity fetch, including transport
// errors and timeouts (StatusCode is 0 for those).
type FetchError struct {
	Provider   domain.Provider
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: activity fetch failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: activity fetch failed (status %d)", e.Provider, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }
