package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"example.com/integrations/internal/domain"
)

// Polar talks to the Polar AccessLink v3 API.
type Polar struct {
	oauthClient
}

// NewPolar constructs the Polar adapter.
func NewPolar(creds Credentials, opts ...Option) *Polar {
	return &Polar{newOAuthClient(domain.ProviderPolar, creds, endpoints{
		AuthorizeURL: "https://flow.polar.com/oauth2/authorization",
		TokenURL:     "https://polarremote.com/v2/oauth2/token",
		APIBaseURL:   "https://www.polaraccesslink.com/v3",
	}, opts...)}
}

func (p *Polar) Provider() domain.Provider { return domain.ProviderPolar }

func (p *Polar) AuthorizationURL(state, redirectURI string) string {
	return p.authorizeURL(state, redirectURI, "accesslink.read_all", nil)
}

type polarTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	XUserID     int64  `json:"x_user_id"`
}

func (p *Polar) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenGrant, error) {
	body, err := p.postToken(ctx, url.Values{
		"client_id":     {p.creds.ClientID},
		"client_secret": {p.creds.ClientSecret},
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
	}, true)
	if err != nil {
		return nil, err
	}

	var tok polarTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, &OAuthExchangeError{Provider: p.provider, Body: err.Error()}
	}
	// AccessLink tokens are long-lived and carry no refresh token.
	return &TokenGrant{
		AccessToken:       tok.AccessToken,
		ExpiresAt:         expiresIn(tok.ExpiresIn),
		ProviderAccountID: strconv.FormatInt(tok.XUserID, 10),
	}, nil
}

func (p *Polar) RefreshToken(ctx context.Context, conn *domain.Connection) (*TokenGrant, error) {
	// No refresh grant exists; an expired token means the user must
	// re-authorize.
	return nil, &TokenRefreshError{Provider: p.provider, Body: "accesslink issues no refresh tokens; re-authorization required"}
}

type polarExercise struct {
	ID        string  `json:"id"`
	Sport     string  `json:"sport"`
	StartTime string  `json:"start_time"`
	Duration  string  `json:"duration"`
	Distance  float64 `json:"distance"`
	Calories  float64 `json:"calories"`
	HeartRate struct {
		Average float64 `json:"average"`
		Maximum float64 `json:"maximum"`
	} `json:"heart_rate"`
}

func (p *Polar) FetchActivities(ctx context.Context, accessToken string, since time.Time, pageSize int) (*Page, error) {
	body, err := p.getJSON(ctx, p.endpoints.APIBaseURL+"/exercises", accessToken)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &FetchError{Provider: p.provider, Err: err}
	}

	page := &Page{Activities: make([]RawActivity, 0, len(items))}
	for _, raw := range items {
		if len(page.Activities) >= pageSize {
			break
		}
		var item polarExercise
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, &FetchError{Provider: p.provider, Err: err}
		}
		startedAt, err := parsePolarTime(item.StartTime)
		if err != nil {
			return nil, &FetchError{Provider: p.provider, Err: fmt.Errorf("bad start_time %q: %w", item.StartTime, err)}
		}
		// The exercises listing has no server-side since filter.
		if startedAt.Before(since) {
			continue
		}
		page.Activities = append(page.Activities, RawActivity{
			ExternalID:     item.ID,
			Type:           item.Sport,
			StartedAt:      startedAt,
			DurationSec:    parseISODurationSeconds(item.Duration),
			DistanceMeters: item.Distance,
			Calories:       optionalInt(item.Calories),
			AvgHeartRate:   optionalInt(item.HeartRate.Average),
			MaxHeartRate:   optionalInt(item.HeartRate.Maximum),
			Notes:          "",
			Payload:        raw,
		})
	}
	return page, nil
}

// parsePolarTime accepts AccessLink timestamps, which come with or without
// a zone offset.
func parsePolarTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var isoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?$`)

// parseISODurationSeconds converts AccessLink's ISO-8601 durations
// (e.g. PT1H23M45S) to whole seconds. Malformed input yields 0.
func parseISODurationSeconds(value string) int {
	m := isoDurationRe.FindStringSubmatch(value)
	if m == nil {
		return 0
	}
	hours, _ := strconv.Atoi(zeroIfEmpty(m[1]))
	minutes, _ := strconv.Atoi(zeroIfEmpty(m[2]))
	seconds, _ := strconv.ParseFloat(zeroIfEmpty(m[3]), 64)
	return hours*3600 + minutes*60 + int(seconds)
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
