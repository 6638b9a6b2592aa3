package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNothingOverridden(t *testing.T) {
	chdirToEmptyTempDir(t)

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9095", cfg.Metrics.ListenAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_PortEnvVarOverridesDefault(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("PORT", "9001")

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
}

// The positional CLI argument is the most specific override and wins over
// both the default and the PORT environment variable.
func TestLoad_PositionalArgOverridesPortEnvVar(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("PORT", "9001")

	cfg, err := Load("", []string{"7777"})

	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
}

func TestLoad_InvalidPositionalArgReturnsError(t *testing.T) {
	chdirToEmptyTempDir(t)

	_, err := Load("", []string{"not-a-port"})

	assert.Error(t, err)
}

func TestLoad_MissingExplicitConfigFileReturnsError(t *testing.T) {
	chdirToEmptyTempDir(t)

	_, err := Load("/nonexistent/pocket-parrot.yaml", nil)

	assert.Error(t, err)
}

func TestLoad_PrefixedEnvVarOverridesServerHost(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("RELAY_SERVER_HOST", "127.0.0.1")

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
}

func TestLoad_DefaultsIncludeRelayArbitrationConstants(t *testing.T) {
	chdirToEmptyTempDir(t)

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Relay.MaxProducers)
	assert.Equal(t, 30*time.Second, cfg.Relay.SenderInactivityTimeout)
	assert.Equal(t, 300*time.Second, cfg.Relay.ReconnectWindow)
	assert.Equal(t, 60*time.Second, cfg.Relay.ReconnectPromotionWindow)
	assert.Equal(t, 10*time.Second, cfg.Relay.ReclaimIdleThreshold)
	assert.Equal(t, 1000*time.Millisecond, cfg.Relay.BatchInterval)
	assert.Equal(t, 10, cfg.Relay.MaxBatchSize)
}

func TestLoad_RelayEnvVarOverridesMaxProducers(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("RELAY_RELAY_MAX_PRODUCERS", "5")

	cfg, err := Load("", nil)

	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Relay.MaxProducers)
}

func TestLoad_ZeroMaxProducersFailsFast(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("RELAY_RELAY_MAX_PRODUCERS", "0")

	_, err := Load("", nil)

	assert.Error(t, err)
}

func TestLoad_NegativeBatchIntervalFailsFast(t *testing.T) {
	chdirToEmptyTempDir(t)
	t.Setenv("RELAY_RELAY_BATCH_INTERVAL", "-1s")

	_, err := Load("", nil)

	assert.Error(t, err)
}

func TestRelayConfigValidate_RejectsZeroMaxBatchSize(t *testing.T) {
	cfg := RelayConfig{
		MaxProducers:             1,
		SenderInactivityTimeout:  time.Second,
		ReconnectWindow:          time.Second,
		ReconnectPromotionWindow: time.Second,
		ReclaimIdleThreshold:     time.Second,
		BatchInterval:            time.Second,
		MaxBatchSize:             0,
	}

	assert.Error(t, cfg.validate())
}

func chdirToEmptyTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}
