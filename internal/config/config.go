// Package config loads relay configuration from defaults, an optional
// config file, environment variables, and the command line, in that order
// of increasing precedence — grounded on odin-ws-server-3's
// internal/config/config.go viper.Load() layering.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig holds the main relay listener settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MetricsConfig controls the separate Prometheus listener (SPEC_FULL.md §4.11).
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// LoggingConfig controls zap logger verbosity/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RelayConfig holds the arbitration and batching constants spec.md §6 names
// (MAX_PRODUCERS, SENDER_INACTIVITY_TIMEOUT, RECONNECT_WINDOW,
// RECONNECT_PROMOTION_WINDOW, RECLAIM_IDLE_THRESHOLD, BATCH_INTERVAL,
// MAX_BATCH_SIZE), overridable per SPEC_FULL.md §4.9's recognized-keys list.
type RelayConfig struct {
	MaxProducers             int           `mapstructure:"max_producers"`
	SenderInactivityTimeout  time.Duration `mapstructure:"sender_inactivity_timeout"`
	ReconnectWindow          time.Duration `mapstructure:"reconnect_window"`
	ReconnectPromotionWindow time.Duration `mapstructure:"reconnect_promotion_window"`
	ReclaimIdleThreshold     time.Duration `mapstructure:"reclaim_idle_threshold"`
	BatchInterval            time.Duration `mapstructure:"batch_interval"`
	MaxBatchSize             int           `mapstructure:"max_batch_size"`
}

// Config is the full set of relay runtime configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Relay   RelayConfig   `mapstructure:"relay"`
}

// Load builds Config from defaults, an optional config file (explicit path
// via configFile, else ./pocket-parrot.yaml or ./config/pocket-parrot.yaml),
// RELAY_-prefixed environment variables (SPEC_FULL.md §4.9), and finally
// args (a positional port override, matching spec.md §6's "PORT env var or
// CLI arg" requirement — the CLI arg wins since it is the most specific
// override a caller can give). Invalid RelayConfig overrides (non-positive
// durations or caps) fail fast here rather than surfacing later as an
// arbiter/registry/batcher panic.
func Load(configFile string, args []string) (Config, error) {
	// godotenv populates the process environment before viper.AutomaticEnv
	// reads it; a missing .env file is not an error (grounded on
	// go-server-2/src's logger.go startup sequence).
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("relay.max_producers", 25)
	v.SetDefault("relay.sender_inactivity_timeout", 30*time.Second)
	v.SetDefault("relay.reconnect_window", 300*time.Second)
	v.SetDefault("relay.reconnect_promotion_window", 60*time.Second)
	v.SetDefault("relay.reclaim_idle_threshold", 10*time.Second)
	v.SetDefault("relay.batch_interval", 1000*time.Millisecond)
	v.SetDefault("relay.max_batch_size", 10)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("pocket-parrot")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if configFile != "" {
			return Config{}, fmt.Errorf("reading config file %q: %w", configFile, err)
		}
	}

	// PORT is the one bare (unprefixed) environment variable spec.md §6
	// names explicitly; viper's automatic env binding only sees RELAY_*,
	// so it is bound by hand.
	if port, ok := lookupPort(); ok {
		v.Set("server.port", port)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return Config{}, fmt.Errorf("invalid port argument %q: %w", args[0], err)
		}
		cfg.Server.Port = port
	}

	if err := cfg.Relay.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid relay config: %w", err)
	}

	return cfg, nil
}

// validate enforces spec.md §6's "invalid overrides (negative durations,
// zero caps) fail fast at startup with a non-zero exit" contract.
func (r RelayConfig) validate() error {
	switch {
	case r.MaxProducers <= 0:
		return fmt.Errorf("max_producers must be positive, got %d", r.MaxProducers)
	case r.SenderInactivityTimeout <= 0:
		return fmt.Errorf("sender_inactivity_timeout must be positive, got %s", r.SenderInactivityTimeout)
	case r.ReconnectWindow <= 0:
		return fmt.Errorf("reconnect_window must be positive, got %s", r.ReconnectWindow)
	case r.ReconnectPromotionWindow <= 0:
		return fmt.Errorf("reconnect_promotion_window must be positive, got %s", r.ReconnectPromotionWindow)
	case r.ReclaimIdleThreshold <= 0:
		return fmt.Errorf("reclaim_idle_threshold must be positive, got %s", r.ReclaimIdleThreshold)
	case r.BatchInterval <= 0:
		return fmt.Errorf("batch_interval must be positive, got %s", r.BatchInterval)
	case r.MaxBatchSize <= 0:
		return fmt.Errorf("max_batch_size must be positive, got %d", r.MaxBatchSize)
	}
	return nil
}

func lookupPort() (string, bool) {
	v := viper.New()
	v.AutomaticEnv()
	p := v.GetString("PORT")
	return p, p != ""
}
