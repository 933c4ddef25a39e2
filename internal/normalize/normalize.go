// Package normalize converts provider-native activity records into the
// canonical schema. Everything here is pure: no I/O, deterministic output
// for identical input.
package normalize

import (
	"math"
	"strings"
	"time"

	"example.com/integrations/internal/domain"
	"example.com/integrations/internal/provider"
)

// Activity maps one raw record onto the canonical schema. Unknown provider
// activity types resolve to ActivityOther; a sync run never aborts over a
// vocabulary gap. The raw payload is carried over verbatim.
func Activity(p domain.Provider, raw provider.RawActivity, tenantID, userID string) domain.Activity {
	startedAt := raw.StartedAt.UTC()
	return domain.Activity{
		TenantID:      tenantID,
		UserID:        userID,
		Provider:      p,
		ExternalID:    raw.ExternalID,
		Type:          MapType(p, raw.Type),
		StartedAt:     startedAt,
		EndedAt:       startedAt.Add(time.Duration(raw.DurationSec) * time.Second),
		DurationSec:   raw.DurationSec,
		DistanceKM:    Kilometers(raw.DistanceMeters),
		Calories:      raw.Calories,
		AvgHeartRate:  raw.AvgHeartRate,
		MaxHeartRate:  raw.MaxHeartRate,
		ElevationGain: raw.ElevationGainM,
		Notes:         raw.Notes,
		RawPayload:    raw.Payload,
	}
}

// Kilometers converts meters to kilometers rounded to two decimals.
func Kilometers(meters float64) float64 {
	if meters <= 0 {
		return 0
	}
	return math.Round(meters/10) / 100
}

// MapType resolves a provider-native type string against the fixed
// per-provider table.
func MapType(p domain.Provider, nativeType string) domain.ActivityType {
	table, ok := typeTables[p]
	if !ok {
		return domain.ActivityOther
	}
	if mapped, ok := table[strings.ToLower(strings.TrimSpace(nativeType))]; ok {
		return mapped
	}
	return domain.ActivityOther
}

// typeTables hold the per-provider vocabulary. Keys are lower-cased native
// type strings; Google Fit and WHOOP use numeric codes serialized as
// strings.
var typeTables = map[domain.Provider]map[string]domain.ActivityType{
	domain.ProviderStrava: {
		"run":              domain.ActivityRunning,
		"trailrun":         domain.ActivityRunning,
		"virtualrun":       domain.ActivityRunning,
		"ride":             domain.ActivityCycling,
		"virtualride":      domain.ActivityCycling,
		"mountainbikeride": domain.ActivityCycling,
		"gravelride":       domain.ActivityCycling,
		"swim":             domain.ActivitySwimming,
		"walk":             domain.ActivityWalking,
		"hike":             domain.ActivityHiking,
		"weighttraining":   domain.ActivityStrength,
		"workout":          domain.ActivityCrossTraining,
		"crossfit":         domain.ActivityCrossTraining,
		"yoga":             domain.ActivityYoga,
	},
	domain.ProviderGarmin: {
		"running":             domain.ActivityRunning,
		"treadmill_running":   domain.ActivityRunning,
		"trail_running":       domain.ActivityRunning,
		"cycling":             domain.ActivityCycling,
		"indoor_cycling":      domain.ActivityCycling,
		"mountain_biking":     domain.ActivityCycling,
		"lap_swimming":        domain.ActivitySwimming,
		"open_water_swimming": domain.ActivitySwimming,
		"walking":             domain.ActivityWalking,
		"casual_walking":      domain.ActivityWalking,
		"hiking":              domain.ActivityHiking,
		"strength_training":   domain.ActivityStrength,
		"indoor_cardio":       domain.ActivityCrossTraining,
		"fitness_equipment":   domain.ActivityCrossTraining,
		"yoga":                domain.ActivityYoga,
	},
	domain.ProviderPolar: {
		"running":           domain.ActivityRunning,
		"treadmill_running": domain.ActivityRunning,
		"cycling":           domain.ActivityCycling,
		"road_cycling":      domain.ActivityCycling,
		"mountain_biking":   domain.ActivityCycling,
		"swimming":          domain.ActivitySwimming,
		"pool_swimming":     domain.ActivitySwimming,
		"walking":           domain.ActivityWalking,
		"hiking":            domain.ActivityHiking,
		"strength_training": domain.ActivityStrength,
		"circuit_training":  domain.ActivityCrossTraining,
		"yoga":              domain.ActivityYoga,
	},
	// Google Fit session activityType codes.
	domain.ProviderGoogleFit: {
		"8":   domain.ActivityRunning,       // running
		"57":  domain.ActivityRunning,       // running on treadmill
		"1":   domain.ActivityCycling,       // biking
		"17":  domain.ActivityCycling,       // road biking
		"15":  domain.ActivityCycling,       // mountain biking
		"82":  domain.ActivitySwimming,      // swimming
		"84":  domain.ActivitySwimming,      // pool swimming
		"7":   domain.ActivityWalking,       // walking
		"93":  domain.ActivityWalking,       // fitness walking
		"35":  domain.ActivityHiking,        // hiking
		"80":  domain.ActivityStrength,      // strength training
		"97":  domain.ActivityStrength,      // weightlifting
		"48":  domain.ActivityCrossTraining, // interval training
		"100": domain.ActivityYoga,          // yoga
	},
	// WHOOP sport ids.
	domain.ProviderWhoop: {
		"0":  domain.ActivityRunning,
		"1":  domain.ActivityCycling,
		"33": domain.ActivitySwimming,
		"63": domain.ActivityWalking,
		"52": domain.ActivityHiking,
		"45": domain.ActivityStrength,      // weightlifting
		"47": domain.ActivityCrossTraining, // crossfit
		"44": domain.ActivityYoga,
	},
	// Companion-app providers never produce pullable records; tables exist
	// so payloads replayed from the companion pipeline still normalize.
	domain.ProviderSamsungHealth: {
		"running":  domain.ActivityRunning,
		"cycling":  domain.ActivityCycling,
		"swimming": domain.ActivitySwimming,
		"walking":  domain.ActivityWalking,
		"hiking":   domain.ActivityHiking,
		"yoga":     domain.ActivityYoga,
	},
	domain.ProviderAppleHealth: {
		"hkworkoutactivitytyperunning":                     domain.ActivityRunning,
		"hkworkoutactivitytypecycling":                     domain.ActivityCycling,
		"hkworkoutactivitytypeswimming":                    domain.ActivitySwimming,
		"hkworkoutactivitytypewalking":                     domain.ActivityWalking,
		"hkworkoutactivitytypehiking":                      domain.ActivityHiking,
		"hkworkoutactivitytypetraditionalstrengthtraining": domain.ActivityStrength,
		"hkworkoutactivitytypecrosstraining":               domain.ActivityCrossTraining,
		"hkworkoutactivitytypeyoga":                        domain.ActivityYoga,
	},
}
