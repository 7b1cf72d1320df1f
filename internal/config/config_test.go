package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("OPERATOR_PASSWORD", "")

	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.OperatorPassword)
	assert.Equal(t, "admin", cfg.OperatorUsername)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", " postgres://ledger@localhost/ledger ")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CREDIT_BOARD_TTL_SECONDS", "0")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "postgres://ledger@localhost/ledger", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 30, cfg.CreditBoardTTLSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFileEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "port: \"7070\"\nsqlite_path: ledger.db\nlog_format: console\nredis_db: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Address())
	assert.Equal(t, "ledger.db", cfg.SQLitePath)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [unclosed"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadRatesDefaultsWhenFileMissing(t *testing.T) {
	rates, err := LoadRates(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString(DefaultExchangeRate).Equal(rates.ExchangeRate()))
	assert.True(t, decimal.RequireFromString(DefaultMarginPercent).Equal(rates.MarginPercent()))
}

func TestRatesUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	rates, err := LoadRates(path)
	require.NoError(t, err)

	require.NoError(t, rates.Update(decimal.RequireFromString("36.75"), decimal.RequireFromString("50")))
	assert.True(t, decimal.RequireFromString("36.75").Equal(rates.ExchangeRate()))

	reloaded, err := LoadRates(path)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("36.75").Equal(reloaded.ExchangeRate()))
	assert.True(t, decimal.RequireFromString("50").Equal(reloaded.MarginPercent()))
}

func TestLoadRatesReadsNumbers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"exchange_rate": 41.5, "margin_percent": 30}`), 0o600))

	rates, err := LoadRates(path)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("41.5").Equal(rates.ExchangeRate()))
	assert.True(t, decimal.RequireFromString("30").Equal(rates.MarginPercent()))
}

func TestLoadRatesRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"exchange_rate": 0}`), 0o600))

	_, err := LoadRates(path)
	assert.Error(t, err)
}

func TestStaticRatesUpdateStaysInMemory(t *testing.T) {
	rates := StaticRates(decimal.NewFromInt(40), decimal.NewFromInt(65))
	require.NoError(t, rates.Update(decimal.NewFromInt(42), decimal.NewFromInt(10)))
	assert.True(t, decimal.NewFromInt(42).Equal(rates.ExchangeRate()))
}
