package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/integrations/internal/domain"
)

const defaultHTTPTimeout = 15 * time.Second

// Credentials holds the OAuth client registration for one platform.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// endpoints collects the URLs an adapter talks to. Tests override these to
// point at an httptest server.
type endpoints struct {
	AuthorizeURL string
	TokenURL     string
	APIBaseURL   string
}

// Option customises adapter construction.
type Option func(*oauthClient)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *oauthClient) {
		c.http = client
	}
}

// WithEndpoints overrides the provider URLs, primarily for tests.
func WithEndpoints(authorizeURL, tokenURL, apiBaseURL string) Option {
	return func(c *oauthClient) {
		if authorizeURL != "" {
			c.endpoints.AuthorizeURL = authorizeURL
		}
		if tokenURL != "" {
			c.endpoints.TokenURL = tokenURL
		}
		if apiBaseURL != "" {
			c.endpoints.APIBaseURL = apiBaseURL
		}
	}
}

// oauthClient is the shared transport core embedded by every adapter.
type oauthClient struct {
	provider  domain.Provider
	creds     Credentials
	endpoints endpoints
	http      *http.Client
}

func newOAuthClient(provider domain.Provider, creds Credentials, eps endpoints, opts ...Option) oauthClient {
	c := oauthClient{
		provider:  provider,
		creds:     creds,
		endpoints: eps,
		http:      &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// authorizeURL assembles the consent URL with common OAuth parameters plus
// provider-specific extras.
func (c *oauthClient) authorizeURL(state, redirectURI, scope string, extra url.Values) string {
	q := url.Values{}
	q.Set("client_id", c.creds.ClientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	if scope != "" {
		q.Set("scope", scope)
	}
	for key, values := range extra {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	return c.endpoints.AuthorizeURL + "?" + q.Encode()
}

// postToken performs a form-encoded POST against the token endpoint and
// returns the body on 2xx. exchange reports whether this is a code exchange
// (vs. a refresh), which selects the error type on rejection.
func (c *oauthClient) postToken(ctx context.Context, form url.Values, exchange bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		if exchange {
			return nil, &OAuthExchangeError{Provider: c.provider, Body: err.Error()}
		}
		return nil, &TokenRefreshError{Provider: c.provider, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if exchange {
			return nil, &OAuthExchangeError{Provider: c.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		}
		return nil, &TokenRefreshError{Provider: c.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// getJSON performs an authenticated GET and returns the body on 2xx.
// Non-2xx responses map onto the fetch error taxonomy.
func (c *oauthClient) getJSON(ctx context.Context, rawURL, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: c.provider, RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{Provider: c.provider, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<22))
}

// genericTokenResponse matches the common OAuth2 token payload shape.
type genericTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func exchangeGeneric(ctx context.Context, c *oauthClient, code, redirectURI string) (*TokenGrant, error) {
	body, err := c.postToken(ctx, url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, true)
	if err != nil {
		return nil, err
	}
	var tok genericTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: c.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
		ProviderAccountID: tok.UserID,
	}, nil
}

func refreshGeneric(ctx context.Context, c *oauthClient, conn *domain.Connection) (*TokenGrant, error) {
	body, err := c.postToken(ctx, url.Values{
		"client_id":     {c.creds.ClientID},
		"client_secret": {c.creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
	}, false)
	if err != nil {
		return nil, err
	}
	var tok genericTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenRefreshError{Provider: c.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(tok.ExpiresIn) * time.Second),
	}, nil
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
