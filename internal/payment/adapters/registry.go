package adapters

import (
	"github.com/smallbiznis/paycore/internal/payment/domain"
)

// Registry holds exactly one adapter per provider. Dispatch is an
// exhaustive switch over domain.Provider, so a new provider constant
// without a case fails the registry test.
type Registry struct {
	Card        domain.Adapter
	MobileMoney domain.Adapter
	MultiRail   domain.Adapter
}

func NewRegistry(card, mobileMoney, multiRail domain.Adapter) *Registry {
	return &Registry{Card: card, MobileMoney: mobileMoney, MultiRail: multiRail}
}

// For returns the adapter bound to provider.
func (r *Registry) For(provider domain.Provider) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrInvalidConfig
	}
	var adapter domain.Adapter
	switch provider {
	case domain.ProviderCard:
		adapter = r.Card
	case domain.ProviderMobileMoney:
		adapter = r.MobileMoney
	case domain.ProviderMultiRail:
		adapter = r.MultiRail
	default:
		return nil, domain.NewValidationError("provider", "unsupported_provider", "unsupported provider")
	}
	if adapter == nil {
		return nil, domain.NewValidationError("provider", "provider_not_configured", "provider is not configured")
	}
	return adapter, nil
}
