package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"example.com/integrations/internal/domain"
)

// GoogleFit talks to the Google Fitness REST API. Sessions carry a numeric
// activity-type code; the normalizer owns the code-to-taxonomy table.
type GoogleFit struct {
	oauthClient
}

// NewGoogleFit constructs the Google Fit adapter.
func NewGoogleFit(creds Credentials, opts ...Option) *GoogleFit {
	return &GoogleFit{newOAuthClient(domain.ProviderGoogleFit, creds, endpoints{
		AuthorizeURL: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenURL:     "https://oauth2.googleapis.com/token",
		APIBaseURL:   "https://www.googleapis.com/fitness/v1",
	}, opts...)}
}

func (g *GoogleFit) Provider() domain.Provider { return domain.ProviderGoogleFit }

func (g *GoogleFit) AuthorizationURL(state, redirectURI string) string {
	return g.authorizeURL(state, redirectURI,
		"https://www.googleapis.com/auth/fitness.activity.read",
		url.Values{
			"access_type": {"offline"},
			"prompt":      {"consent"},
		})
}

type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (g *GoogleFit) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	body, err := g.postToken(ctx, url.Values{
		"client_id":     {g.creds.ClientID},
		"client_secret": {g.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, true)
	if err != nil {
		return nil, err
	}

	var tok googleTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: g.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresIn(tok.ExpiresIn),
		// Google exposes no stable athlete id on the token response; the
		// subject is implied by the grant itself.
		ProviderAccountID: "me",
	}, nil
}

func (g *GoogleFit) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	body, err := g.postToken(ctx, url.Values{
		"client_id":     {g.creds.ClientID},
		"client_secret": {g.creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
	}, false)
	if err != nil {
		return nil, err
	}

	var tok googleTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenRefreshError{Provider: g.provider, Body: err.Error()}
	}
	grant := &TokenGrant{
		AccessToken: tok.AccessToken,
		ExpiresAt:   expiresIn(tok.ExpiresIn),
	}
	// Google only rotates the refresh token when it chooses to.
	if tok.RefreshToken != "" {
		grant.RefreshToken = tok.RefreshToken
	}
	return grant, nil
}

type googleSession struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ActivityType   int    `json:"activityType"`
	StartTimeMilli string `json:"startTimeMillis"`
	EndTimeMilli   string `json:"endTimeMillis"`
}

func (g *GoogleFit) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	fetchURL := fmt.Sprintf("%s/users/me/sessions?startTime=%s",
		g.endpoints.APIBaseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)))

	body, err := g.getJSON(ctx, fetchURL, accessToken)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Session []json.RawMessage `json:"session"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FetchError{Provider: g.provider, Err: err}
	}

	page := &Page{Activities: make([]RawActivity, 0, len(envelope.Session))}
	for _, raw := range envelope.Session {
		if len(page.Activities) >= pageSize {
			break
		}
		var item googleSession
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &FetchError{Provider: g.provider, Err: err}
		}
		startMilli, err := strconv.ParseInt(item.StartTimeMilli, 10, 64)
		if err != nil {
			return nil, &FetchError{Provider: g.provider, Err: fmt.Errorf("bad startTimeMillis %q: %w", item.StartTimeMilli, err)}
		}
		endMilli, err := strconv.ParseInt(item.EndTimeMilli, 10, 64)
		if err != nil {
			return nil, &FetchError{Provider: g.provider, Err: fmt.Errorf("bad endTimeMillis %q: %w", item.EndTimeMilli, err)}
		}
		notes := item.Name
		if notes == "" {
			notes = item.Description
		}
		page.Activities = append(page.Activities, RawActivity{
			ExternalID:  item.ID,
			Type:        strconv.Itoa(item.ActivityType),
			StartedAt:   time.UnixMilli(startMilli).UTC(),
			DurationSec: int((endMilli - startMilli) / 1000),
			Notes:       notes,
			Payload:     raw,
		})
	}
	return page, nil
}
