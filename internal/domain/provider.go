// Package domain defines the business types for the integration service.
package domain

import "fmt"

// Provider identifies an external fitness platform.
type Provider string

const (
	ProviderStrava        Provider = "strava"
	ProviderGarmin        Provider = "garmin"
	ProviderPolar         Provider = "polar"
	ProviderGoogleFit     Provider = "google_fit"
	ProviderWhoop         Provider = "whoop"
	ProviderSamsungHealth Provider = "samsung_health"
	ProviderAppleHealth   Provider = "apple_health"
)

// Providers lists every supported platform in a stable order.
var Providers = []Provider{
	ProviderStrava,
	ProviderGarmin,
	ProviderPolar,
	ProviderGoogleFit,
	ProviderWhoop,
	ProviderSamsungHealth,
	ProviderAppleHealth,
}

// ParseProvider validates a provider name from an untrusted source.
func ParseProvider(name string) (Provider, error) {
	for _, p := range Providers {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
}

// String implements fmt.Stringer.
func (p Provider) String() string { return string(p) }
