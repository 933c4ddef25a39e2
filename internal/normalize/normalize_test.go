package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

func TestActivityCanonicalMapping(t *testing.T) {
	started := time.Date(2026, time.March, 14, 7, 30, 0, 0, time.FixedZone("CET", 3600))
	calories := 512
	avgHR := 148
	maxHR := 177
	elevation := 240.5
	raw := provider.RawActivity{
		ExternalID:     "9876543210",
		Type:           "TrailRun",
		StartedAt:      started,
		DurationSec:    3600,
		DistanceMeters: 10440,
		Calories:       &calories,
		AvgHeartRate:   &avgHR,
		MaxHeartRate:   &maxHR,
		ElevationGainM: &elevation,
		Notes:          "morning trail loop",
		Payload:        json.RawMessage(`{"id":9876543210}`),
	}

	got := Activity(domain.ProviderStrava, raw, "tenant-1", "user-1")

	require.Equal(t, "tenant-1", got.TenantID)
	require.Equal(t, "user-1", got.UserID)
	require.Equal(t, domain.ProviderStrava, got.Provider)
	require.Equal(t, "9876543210", got.ExternalID)
	require.Equal(t, domain.ActivityRunning, got.Type)
	require.Equal(t, started.UTC(), got.StartedAt)
	require.Equal(t, started.UTC().Add(time.Hour), got.EndedAt)
	require.Equal(t, 3600, got.DurationSec)
	require.Equal(t, 10.44, got.DistanceKM)
	require.Equal(t, &calories, got.Calories)
	require.Equal(t, &avgHR, got.AvgHeartRate)
	require.Equal(t, &maxHR, got.MaxHeartRate)
	require.Equal(t, &elevation, got.ElevationGain)
	require.Equal(t, "morning trail loop", got.Notes)
	require.JSONEq(t, `{"id":9876543210}`, string(got.RawPayload))
}

func TestActivityIsDeterministic(t *testing.T) {
	raw := provider.RawActivity{
		ExternalID:     "w-1",
		Type:           "running",
		StartedAt:      time.Date(2026, time.January, 2, 6, 0, 0, 0, time.UTC),
		DurationSec:    1800,
		DistanceMeters: 5000,
	}

	first := Activity(domain.ProviderGarmin, raw, "tenant-1", "user-1")
	second := Activity(domain.ProviderGarmin, raw, "tenant-1", "user-1")
	require.Equal(t, first, second)
}

func TestKilometersRounding(t *testing.T) {
	cases := []struct {
		meters float64
		want   float64
	}{
		{0, 0},
		{-250, 0},
		{5, 0.01},
		{4, 0},
		{1000, 1},
		{10444, 10.44},
		{10445, 10.45},
		{21097.5, 21.10},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Kilometers(tc.meters), "meters=%v", tc.meters)
	}
}

func TestMapTypePerProvider(t *testing.T) {
	cases := []struct {
		provider domain.Provider
		native   string
		want     domain.ActivityType
	}{
		{domain.ProviderStrava, "Ride", domain.ActivityCycling},
		{domain.ProviderStrava, "  WeightTraining ", domain.ActivityStrength},
		{domain.ProviderGarmin, "lap_swimming", domain.ActivitySwimming},
		{domain.ProviderPolar, "circuit_training", domain.ActivityCrossTraining},
		{domain.ProviderGoogleFit, "8", domain.ActivityRunning},
		{domain.ProviderGoogleFit, "100", domain.ActivityYoga},
		{domain.ProviderWhoop, "45", domain.ActivityStrength},
		{domain.ProviderSamsungHealth, "walking", domain.ActivityWalking},
		{domain.ProviderAppleHealth, "HKWorkoutActivityTypeHiking", domain.ActivityHiking},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, MapType(tc.provider, tc.native), "%s/%s", tc.provider, tc.native)
	}
}

func TestMapTypeUnknownFallsBackToOther(t *testing.T) {
	require.Equal(t, domain.ActivityOther, MapType(domain.ProviderStrava, "kitesurf"))
	require.Equal(t, domain.ActivityOther, MapType(domain.ProviderGoogleFit, "9999"))
	require.Equal(t, domain.ActivityOther, MapType(domain.Provider("not_a_provider"), "running"))
	require.Equal(t, domain.ActivityOther, MapType(domain.ProviderWhoop, ""))
}
