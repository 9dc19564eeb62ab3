package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/pos")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MPESA_CONSUMER_KEY", "key")
	t.Setenv("MPESA_CONSUMER_SECRET", "secret")
	t.Setenv("MPESA_SHORTCODE", "174379")
	t.Setenv("MPESA_PASSKEY", "passkey")
	t.Setenv("MPESA_CALLBACK_URL", "https://example.com/webhooks/mpesa/callback")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "sandbox", cfg.MpesaEnv)
	require.Equal(t, "https://sandbox.safaricom.co.ke", cfg.MpesaBaseURL)
	require.Equal(t, 30*time.Second, cfg.MpesaHTTPTimeout)
	require.Equal(t, time.Hour, cfg.MpesaTokenTTL)
	require.Equal(t, 10*time.Second, cfg.CallbackLockTTL)
	require.Equal(t, 50, cfg.PaymentListLimit)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "pos", cfg.MetricsNamespace)
}

func TestLoadProductionBaseURL(t *testing.T) {
	setRequired(t)
	t.Setenv("MPESA_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://api.safaricom.co.ke", cfg.MpesaBaseURL)
}

func TestLoadBaseURLOverride(t *testing.T) {
	setRequired(t)
	t.Setenv("MPESA_BASE_URL", "http://localhost:9090/")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9090", cfg.MpesaBaseURL)
}

func TestLoadRequiresDatabase(t *testing.T) {
	setRequired(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadTestEnvSkipsMpesaCreds(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/pos")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "test", cfg.AppEnv)
}

func TestLoadMissingMpesaCreds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/pos")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	_, err := Load()
	require.Error(t, err)
}

func TestTaxBpsZeroIsHonoured(t *testing.T) {
	setRequired(t)
	t.Setenv("TAX_BPS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	require.Zero(t, cfg.TaxBps)
}

func TestTaxBpsDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 1600, cfg.TaxBps)

	t.Setenv("TAX_BPS", "-5")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, 1600, cfg.TaxBps)
}

func TestHTTPAddrForms(t *testing.T) {
	require.Equal(t, ":9000", (&Config{Port: "9000"}).HTTPAddr())
	require.Equal(t, ":9000", (&Config{Port: ":9000"}).HTTPAddr())
	require.Equal(t, ":8080", (&Config{}).HTTPAddr())
}
