package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "IMPULSE"
	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "impulse.db"
	defaultLogLevel      = "info"
	defaultStorageMode   = StorageSQLite
	defaultBusMode       = BusMemory
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultSweepInterval = time.Minute
	defaultTokenIssuer   = "impulse-auth"
	defaultTokenAudience = "impulse-api"
)

// Storage modes.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Bus modes.
const (
	BusMemory = "memory"
	BusNATS   = "nats"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	StorageMode   string
	BusMode       string
	NATSURL       string
	SweepInterval time.Duration
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("storage.mode", defaultStorageMode)
	configViper.SetDefault("bus.mode", defaultBusMode)
	configViper.SetDefault("nats.url", defaultNATSURL)
	configViper.SetDefault("sweep.interval", defaultSweepInterval)
	configViper.SetDefault("auth.token_issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.token_audience", defaultTokenAudience)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		StorageMode:   configViper.GetString("storage.mode"),
		BusMode:       configViper.GetString("bus.mode"),
		NATSURL:       configViper.GetString("nats.url"),
		SweepInterval: configViper.GetDuration("sweep.interval"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.token_issuer"),
		TokenAudience: configViper.GetString("auth.token_audience"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	switch c.StorageMode {
	case StorageSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for sqlite storage")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("storage.mode must be %q or %q", StorageSQLite, StorageMemory)
	}
	switch c.BusMode {
	case BusMemory:
	case BusNATS:
		if strings.TrimSpace(c.NATSURL) == "" {
			return fmt.Errorf("nats.url is required for the nats bus")
		}
	default:
		return fmt.Errorf("bus.mode must be %q or %q", BusMemory, BusNATS)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	return nil
}
