package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PaymentPolicy is the hot-reloadable part of the configuration, read from
// payments.yml.
type PaymentPolicy struct {
	SupportedCurrencies []string      `mapstructure:"supportedCurrencies"`
	RetryMaxAttempts    int           `mapstructure:"retryMaxAttempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retryBaseDelay"`
	ProviderTimeout     time.Duration `mapstructure:"providerTimeout"`
	ReconcileAfter      time.Duration `mapstructure:"reconcileAfter"`
}

func DefaultPaymentPolicy() PaymentPolicy {
	return PaymentPolicy{
		SupportedCurrencies: []string{"USD", "EUR", "GBP", "NGN", "GHS", "KES", "ZAR", "UGX"},
		RetryMaxAttempts:    3,
		RetryBaseDelay:      500 * time.Millisecond,
		ProviderTimeout:     15 * time.Second,
		ReconcileAfter:      15 * time.Minute,
	}
}

func (p PaymentPolicy) withDefaults() PaymentPolicy {
	defaults := DefaultPaymentPolicy()
	if len(p.SupportedCurrencies) == 0 {
		p.SupportedCurrencies = defaults.SupportedCurrencies
	}
	for i, code := range p.SupportedCurrencies {
		p.SupportedCurrencies[i] = strings.ToUpper(strings.TrimSpace(code))
	}
	if p.RetryMaxAttempts <= 0 {
		p.RetryMaxAttempts = defaults.RetryMaxAttempts
	}
	if p.RetryBaseDelay <= 0 {
		p.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if p.ProviderTimeout <= 0 {
		p.ProviderTimeout = defaults.ProviderTimeout
	}
	p.ProviderTimeout = clampTimeout(p.ProviderTimeout)
	if p.ReconcileAfter <= 0 {
		p.ReconcileAfter = defaults.ReconcileAfter
	}
	return p
}

// SupportsCurrency reports whether code is enabled for new intents.
func (p PaymentPolicy) SupportsCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, supported := range p.SupportedCurrencies {
		if supported == code {
			return true
		}
	}
	return false
}

func validatePaymentPolicy(p PaymentPolicy) error {
	if p.RetryMaxAttempts > 10 {
		return errors.New("payments.retryMaxAttempts must be at most 10")
	}
	for _, code := range p.SupportedCurrencies {
		if len(code) != 3 {
			return errors.New("payments.supportedCurrencies must hold ISO 4217 codes")
		}
	}
	return nil
}

type PolicyHolder struct {
	current atomic.Value // holds PaymentPolicy
	log     *zap.Logger
}

// NewPolicyHolder reads payments.yml from the standard locations and keeps
// it updated on file changes.
func NewPolicyHolder(log *zap.Logger) (*PolicyHolder, error) {
	return NewPolicyHolderFromPaths(log, "/var/lib/paycore/config", "/etc/paycore", ".")
}

func NewPolicyHolderFromPaths(log *zap.Logger, paths ...string) (*PolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigName("payments")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("PAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PolicyHolder{log: log.Named("config.policy")}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		holder.current.Store(DefaultPaymentPolicy())
		return holder, nil
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		holder.reload(v, e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder pins a policy, for tests and one-shot commands.
func NewStaticPolicyHolder(policy PaymentPolicy) *PolicyHolder {
	holder := &PolicyHolder{log: zap.NewNop()}
	holder.current.Store(policy.withDefaults())
	return holder
}

func (h *PolicyHolder) reload(v *viper.Viper, source string) {
	updated, err := decodePolicy(v)
	if err != nil {
		h.log.Warn("payment policy reload ignored", zap.String("source", source), zap.Error(err))
		return
	}
	h.current.Store(updated)
	h.log.Info("payment policy reloaded", zap.String("source", source))
}

func decodePolicy(v *viper.Viper) (PaymentPolicy, error) {
	var policy PaymentPolicy
	if err := v.UnmarshalKey("payments", &policy); err != nil {
		return PaymentPolicy{}, err
	}
	policy = policy.withDefaults()
	if err := validatePaymentPolicy(policy); err != nil {
		return PaymentPolicy{}, err
	}
	return policy, nil
}

func (h *PolicyHolder) Get() PaymentPolicy {
	return h.current.Load().(PaymentPolicy)
}
