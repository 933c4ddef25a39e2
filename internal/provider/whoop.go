package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"example.com/integrations/internal/domain"
)

// Whoop talks to the WHOOP developer API. Workouts report energy in
// kilojoules and identify sports by numeric id.
type Whoop struct {
	oauthClient
}

// NewWhoop constructs the WHOOP adapter.
func NewWhoop(creds Credentials, opts ...Option) *Whoop {
	return &Whoop{newOAuthClient(domain.ProviderWhoop, creds, endpoints{
		AuthorizeURL: "https://api.prod.whoop.com/oauth/oauth2/auth",
		TokenURL:     "https://api.prod.whoop.com/oauth/oauth2/token",
		APIBaseURL:   "https://api.prod.whoop.com/developer/v1",
	}, opts...)}
}

func (w *Whoop) Provider() domain.Provider { return domain.ProviderWhoop }

func (w *Whoop) AuthorizationURL(state, redirectURI string) string {
	return w.authorizeURL(state, redirectURI, "read:workout offline", nil)
}

type whoopTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

func (w *Whoop) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	body, err := w.postToken(ctx, url.Values{
		"client_id":     {w.creds.ClientID},
		"client_secret": {w.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, true)
	if err != nil {
		return nil, err
	}

	var tok whoopTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: w.provider, Body: err.Error()}
	}

	grant := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresIn(tok.ExpiresIn),
	}
	if id, err := w.fetchProfileID(ctx, tok.AccessToken); err == nil {
		grant.ProviderAccountID = id
	}
	return grant, nil
}

func (w *Whoop) fetchProfileID(ctx context.Context, accessToken string) (string, error) {
	body, err := w.getJSON(ctx, w.endpoints.APIBaseURL+"/user/profile/basic", accessToken)
	if err != nil {
		return "", err
	}
	var profile struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d", profile.UserID), nil
}

func (w *Whoop) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	body, err := w.postToken(ctx, url.Values{
		"client_id":     {w.creds.ClientID},
		"client_secret": {w.creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
		"scope":         {"offline"},
	}, false)
	if err != nil {
		return nil, err
	}

	var tok whoopTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenRefreshError{Provider: w.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresIn(tok.ExpiresIn),
	}, nil
}

type whoopWorkout struct {
	ID      int64  `json:"id"`
	SportID int    `json:"sport_id"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Score   struct {
		Kilojoule        float64 `json:"kilojoule"`
		AverageHeartRate float64 `json:"average_heart_rate"`
		MaxHeartRate     float64 `json:"max_heart_rate"`
		DistanceMeter    float64 `json:"distance_meter"`
	} `json:"score"`
}

const kilojoulesPerKilocalorie = 4.184

func (w *Whoop) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	fetchURL := fmt.Sprintf("%s/activity/workout?start=%s&limit=%d",
		w.endpoints.APIBaseURL, url.QueryEscape(since.UTC().Format(time.RFC3339)), pageSize)

	body, err := w.getJSON(ctx, fetchURL, accessToken)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Records []json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &FetchError{Provider: w.provider, Err: err}
	}

	page := &Page{Activities: make([]RawActivity, 0, len(envelope.Records))}
	for _, raw := range envelope.Records {
		var item whoopWorkout
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &FetchError{Provider: w.provider, Err: err}
		}
		start, err := time.Parse(time.RFC3339, item.Start)
		if err != nil {
			return nil, &FetchError{Provider: w.provider, Err: fmt.Errorf("bad start %q: %w", item.Start, err)}
		}
		end, err := time.Parse(time.RFC3339, item.End)
		if err != nil {
			return nil, &FetchError{Provider: w.provider, Err: fmt.Errorf("bad end %q: %w", item.End, err)}
		}
		page.Activities = append(page.Activities, RawActivity{
			ExternalID:     fmt.Sprintf("%d", item.ID),
			Type:           fmt.Sprintf("%d", item.SportID),
			StartedAt:      start.UTC(),
			DurationSec:    int(end.Sub(start).Seconds()),
			DistanceMeters: item.Score.DistanceMeter,
			Calories:       optionalInt(item.Score.Kilojoule / kilojoulesPerKilocalorie),
			AvgHeartRate:   optionalInt(item.Score.AverageHeartRate),
			MaxHeartRate:   optionalInt(item.Score.MaxHeartRate),
			Payload:        raw,
		})
	}
	return page, nil
}
