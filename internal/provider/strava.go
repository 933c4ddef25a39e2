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

// Strava talks to the Strava v3 API.
type Strava struct {
	oauthClient
}

// NewStrava constructs the Strava adapter.
func NewStrava(creds Credentials, opts ...Option) *Strava {
	return &Strava{newOAuthClient(domain.ProviderStrava, creds, endpoints{
		AuthorizeURL: "https://www.strava.com/oauth/authorize",
		TokenURL:     "https://www.strava.com/oauth/token",
		APIBaseURL:   "https://www.strava.com/api/v3",
	}, opts...)}
}

func (s *Strava) Provider() domain.Provider { return domain.ProviderStrava }

func (s *Strava) AuthorizationURL(state, redirectURI string) string {
	return s.authorizeURL(state, redirectURI, "activity:read_all", url.Values{
		"approval_prompt": {"auto"},
	})
}

type stravaTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Athlete      struct {
		ID int64 `json:"id"`
	} `json:"athlete"`
}

func (s *Strava) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	body, err := s.postToken(ctx, url.Values{
		"client_id":     {s.creds.ClientID},
		"client_secret": {s.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, true)
	if err != nil {
		return nil, err
	}

	var tok stravaTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: s.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         time.Unix(tok.ExpiresAt, 0).UTC(),
		ProviderAccountID: strconv.FormatInt(tok.Athlete.ID, 10),
	}, nil
}

func (s *Strava) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	body, err := s.postToken(ctx, url.Values{
		"client_id":     {s.creds.ClientID},
		"client_secret": {s.creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
	}, false)
	if err != nil {
		return nil, err
	}

	var tok stravaTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenRefreshError{Provider: s.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    time.Unix(tok.ExpiresAt, 0).UTC(),
	}, nil
}

type stravaActivity struct {
	ID                 int64   `json:"id"`
	Name               string  `json:"name"`
	Type               string  `json:"type"`
	StartDate          string  `json:"start_date"`
	ElapsedTime        int     `json:"elapsed_time"`
	Distance           float64 `json:"distance"`
	Calories           float64 `json:"calories"`
	AverageHeartrate   float64 `json:"average_heartrate"`
	MaxHeartrate       float64 `json:"max_heartrate"`
	TotalElevationGain float64 `json:"total_elevation_gain"`
}

func (s *Strava) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	fetchURL := fmt.Sprintf("%s/athlete/activities?after=%d&page=1&per_page=%d",
		s.endpoints.APIBaseURL, epochSeconds(since), pageSize)

	body, err := s.getJSON(ctx, fetchURL, accessToken)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &FetchError{Provider: s.provider, Err: err}
	}

	page := &Page{Activities: make([]RawActivity, 0, len(items))}
	for _, raw := range items {
		var item stravaActivity
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &FetchError{Provider: s.provider, Err: err}
		}
		startedAt, err := time.Parse(time.RFC3339, item.StartDate)
		if err != nil {
			return nil, &FetchError{Provider: s.provider, Err: fmt.Errorf("bad start_date %q: %w", item.StartDate, err)}
		}
		page.Activities = append(page.Activities, RawActivity{
			ExternalID:     strconv.FormatInt(item.ID, 10),
			Type:           item.Type,
			StartedAt:      startedAt.UTC(),
			DurationSec:    item.ElapsedTime,
			DistanceMeters: item.Distance,
			Calories:       optionalInt(item.Calories),
			AvgHeartRate:   optionalInt(item.AverageHeartrate),
			MaxHeartRate:   optionalInt(item.MaxHeartrate),
			ElevationGainM: optionalFloat(item.TotalElevationGain),
			Notes:          item.Name,
			Payload:        raw,
		})
	}
	return page, nil
}

// epochSeconds clamps pre-epoch times to 0 so a first sync (zero since)
// does not produce a negative timestamp in the query string.
func epochSeconds(t time.Time) int64 {
	if s := t.Unix(); s > 0 {
		return s
	}
	return 0
}

func optionalInt(v float64) *int {
	if v <= 0 {
		return nil
	}
	i := int(v + 0.5)
	return &i
}

func optionalFloat(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}
