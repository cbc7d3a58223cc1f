package payment

import (
	"github.com/smallbiznis/paycore/internal/config"
	"github.com/smallbiznis/paycore/internal/payment/adapters"
	"github.com/smallbiznis/paycore/internal/payment/adapters/flutterwave"
	"github.com/smallbiznis/paycore/internal/payment/adapters/paystack"
	"github.com/smallbiznis/paycore/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/paycore/internal/payment/domain"
	"github.com/smallbiznis/paycore/internal/payment/ledger"
	"github.com/smallbiznis/paycore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/paycore/internal/payment/service"
	"github.com/smallbiznis/paycore/internal/payment/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(ledger.New),
	fx.Provide(NewRegistry),
	fx.Provide(
		paymentservice.NewService,
		func(s *paymentservice.Service) paymentdomain.Service { return s },
	),
	fx.Provide(
		webhook.NewService,
		func(s *webhook.Service) paymentdomain.WebhookHandler { return s },
	),
)

// NewRegistry builds one adapter per provider that has credentials.
// Providers left unconfigured answer provider_not_configured.
func NewRegistry(cfg config.Config, log *zap.Logger) *adapters.Registry {
	log = log.Named("payment.registry")
	providers := cfg.Providers
	registry := adapters.NewRegistry(nil, nil, nil)

	if card, err := stripe.New(stripe.Config{
		APIKey:        providers.Stripe.APIKey,
		WebhookSecret: providers.Stripe.WebhookSecret,
		BaseURL:       providers.Stripe.BaseURL,
		Timeout:       providers.Timeout,
	}); err == nil {
		registry.Card = card
	} else {
		log.Warn("provider disabled", zap.String("provider", paymentdomain.ProviderCard.Slug()), zap.Error(err))
	}

	if mobile, err := paystack.New(paystack.Config{
		SecretKey:   providers.Paystack.SecretKey,
		BaseURL:     providers.Paystack.BaseURL,
		CallbackURL: providers.RedirectURL,
		Timeout:     providers.Timeout,
	}); err == nil {
		registry.MobileMoney = mobile
	} else {
		log.Warn("provider disabled", zap.String("provider", paymentdomain.ProviderMobileMoney.Slug()), zap.Error(err))
	}

	if multi, err := flutterwave.New(flutterwave.Config{
		SecretKey:     providers.Flutterwave.SecretKey,
		WebhookSecret: providers.Flutterwave.WebhookSecret,
		BaseURL:       providers.Flutterwave.BaseURL,
		RedirectURL:   providers.RedirectURL,
		Timeout:       providers.Timeout,
	}); err == nil {
		registry.MultiRail = multi
	} else {
		log.Warn("provider disabled", zap.String("provider", paymentdomain.ProviderMultiRail.Slug()), zap.Error(err))
	}

	return registry
}
