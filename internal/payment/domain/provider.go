package domain

import "strings"

// Provider identifies one external payment processor family.
type Provider string

const (
	ProviderCard        Provider = "CARD"
	ProviderMobileMoney Provider = "MOBILE_MONEY"
	ProviderMultiRail   Provider = "MULTI_RAIL"
)

// Providers lists every supported provider in a stable order.
func Providers() []Provider {
	return []Provider{ProviderCard, ProviderMobileMoney, ProviderMultiRail}
}

// ParseProvider accepts the enum value, its lowercase path form or the
// processor alias used in webhook URLs.
func ParseProvider(raw string) (Provider, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	value = strings.ReplaceAll(value, "-", "_")
	switch value {
	case "card", "stripe":
		return ProviderCard, nil
	case "mobile_money", "paystack":
		return ProviderMobileMoney, nil
	case "multi_rail", "flutterwave":
		return ProviderMultiRail, nil
	default:
		return "", NewValidationError("provider", "unsupported_provider", "unsupported provider")
	}
}

func (p Provider) Valid() bool {
	switch p {
	case ProviderCard, ProviderMobileMoney, ProviderMultiRail:
		return true
	default:
		return false
	}
}

// Slug returns the lowercase form used in routes and metric labels.
func (p Provider) Slug() string {
	return strings.ToLower(string(p))
}

func (p Provider) String() string { return string(p) }
