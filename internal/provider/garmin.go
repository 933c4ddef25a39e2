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

// Garmin talks to the Garmin wellness API.
type Garmin struct {
	oauthClient
}

// NewGarmin constructs the Garmin adapter.
func NewGarmin(creds Credentials, opts ...Option) *Garmin {
	return &Garmin{newOAuthClient(domain.ProviderGarmin, creds, endpoints{
		AuthorizeURL: "https://connect.garmin.com/oauth2Confirm",
		TokenURL:     "https://connectapi.garmin.com/di-oauth2-service/oauth/token",
		APIBaseURL:   "https://apis.garmin.com/wellness-api/rest",
	}, opts...)}
}

func (g *Garmin) Provider() domain.Provider { return domain.ProviderGarmin }

func (g *Garmin) AuthorizationURL(state, redirectURI string) string {
	return g.authorizeURL(state, redirectURI, "activity_api", nil)
}

type garminTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	UserID       string `json:"user_id"`
}

func (g *Garmin) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
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

	var tok garminTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: g.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         expiresIn(tok.ExpiresIn),
		ProviderAccountID: tok.UserID,
	}, nil
}

func (g *Garmin) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	body, err := g.postToken(ctx, url.Values{
		"client_id":     {g.creds.ClientID},
		"client_secret": {g.creds.ClientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {conn.RefreshToken},
	}, false)
	if err != nil {
		return nil, err
	}

	var tok garminTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &TokenRefreshError{Provider: g.provider, Body: err.Error()}
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresIn(tok.ExpiresIn),
	}, nil
}

type garminActivity struct {
	ActivityID                    int64   `json:"activityId"`
	ActivityName                  string  `json:"activityName"`
	ActivityType                  string  `json:"activityType"`
	StartTimeInSeconds            int64   `json:"startTimeInSeconds"`
	DurationInSeconds             int     `json:"durationInSeconds"`
	DistanceInMeters              float64 `json:"distanceInMeters"`
	ActiveKilocalories            float64 `json:"activeKilocalories"`
	AverageHeartRateInBeatsPerMin float64 `json:"averageHeartRateInBeatsPerMinute"`
	MaxHeartRateInBeatsPerMinute  float64 `json:"maxHeartRateInBeatsPerMinute"`
	TotalElevationGainInMeters    float64 `json:"totalElevationGainInMeters"`
}

func (g *Garmin) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	fetchURL := fmt.Sprintf("%s/activities?uploadStartTimeInSeconds=%d&limit=%d",
		g.endpoints.APIBaseURL, epochSeconds(since), pageSize)

	body, err := g.getJSON(ctx, fetchURL, accessToken)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &FetchError{Provider: g.provider, Err: err}
	}

	page := &Page{Activities: make([]RawActivity, 0, len(items))}
	for _, raw := range items {
		var item garminActivity
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &FetchError{Provider: g.provider, Err: err}
		}
		page.Activities = append(page.Activities, RawActivity{
			ExternalID:     strconv.FormatInt(item.ActivityID, 10),
			Type:           item.ActivityType,
			StartedAt:      time.Unix(item.StartTimeInSeconds, 0).UTC(),
			DurationSec:    item.DurationInSeconds,
			DistanceMeters: item.DistanceInMeters,
			Calories:       optionalInt(item.ActiveKilocalories),
			AvgHeartRate:   optionalInt(item.AverageHeartRateInBeatsPerMin),
			MaxHeartRate:   optionalInt(item.MaxHeartRateInBeatsPerMinute),
			ElevationGainM: optionalFloat(item.TotalElevationGainInMeters),
			Notes:          item.ActivityName,
			Payload:        raw,
		})
	}
	return page, nil
}

func expiresIn(seconds int) time.Time {
	return time.Now().UTC().Add(time.Duration(seconds) * time.Second)
}
