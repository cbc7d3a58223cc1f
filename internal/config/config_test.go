package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadReadsProviderCredentials(t *testing.T) {
	t.Setenv("STRIPE_API_KEY", " sk_test ")
	t.Setenv("PAYSTACK_SECRET_KEY", "sk_paystack")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("PROVIDER_TIMEOUT_SECONDS", "90")
	t.Setenv("MIGRATE_ON_START", "off")

	cfg := Load()

	assert.Equal(t, "sk_test", cfg.Providers.Stripe.APIKey)
	assert.Equal(t, "sk_paystack", cfg.Providers.Paystack.SecretKey)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, 30*time.Second, cfg.Providers.Timeout)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoadReadsTelemetry(t *testing.T) {
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("OTEL_ALWAYS_SAMPLE_PAYMENTS", "no")

	tel := Load().Telemetry

	assert.Equal(t, "debug", tel.LogLevel)
	assert.Equal(t, "http", tel.OTLPProtocol)
	assert.Equal(t, 0.25, tel.SamplingRatio)
	assert.False(t, tel.AlwaysSamplePayments)
	assert.Equal(t, "localhost:4317", tel.OTLPEndpoint)
}

func TestPolicyDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewPolicyHolderFromPaths(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, DefaultPaymentPolicy(), policy)
	assert.True(t, policy.SupportsCurrency("usd"))
	assert.False(t, policy.SupportsCurrency("XYZ"))
}

func TestPolicyLoadsFile(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, `
payments:
  supportedCurrencies: [usd, ngn]
  retryMaxAttempts: 5
  retryBaseDelay: 250ms
  providerTimeout: 20s
`)

	holder, err := NewPolicyHolderFromPaths(zap.NewNop(), dir)
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, []string{"USD", "NGN"}, policy.SupportedCurrencies)
	assert.Equal(t, 5, policy.RetryMaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.RetryBaseDelay)
	assert.Equal(t, 20*time.Second, policy.ProviderTimeout)
	assert.Equal(t, DefaultPaymentPolicy().ReconcileAfter, policy.ReconcileAfter)
}

func TestPolicyRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, `
payments:
  retryMaxAttempts: 50
`)

	_, err := NewPolicyHolderFromPaths(zap.NewNop(), dir)
	assert.Error(t, err)
}

func TestPolicyReloadKeepsLastGoodValue(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "payments:\n  supportedCurrencies: [USD]\n")

	holder := NewStaticPolicyHolder(PaymentPolicy{SupportedCurrencies: []string{"USD"}})

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, os.WriteFile(path, []byte("payments:\n  supportedCurrencies: [USD, KES]\n"), 0o600))
	require.NoError(t, v.ReadInConfig())
	holder.reload(v, path)
	assert.True(t, holder.Get().SupportsCurrency("KES"))

	require.NoError(t, os.WriteFile(path, []byte("payments:\n  supportedCurrencies: [DOLLARS]\n"), 0o600))
	require.NoError(t, v.ReadInConfig())
	holder.reload(v, path)
	assert.True(t, holder.Get().SupportsCurrency("KES"))
}

func writePolicy(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "payments.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}
