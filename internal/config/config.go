package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "PULSE"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "pulse.db"
	defaultLogLevel     = "info"
	defaultGeoEndpoint  = "http://ip-api.com/json"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	AdminKey      string
	TokenTTL      time.Duration
	GeoEndpoint   string

	Presence PresenceConfig
}

// PresenceConfig tunes the presence subsystem. Every value has an observed
// default; none is required.
type PresenceConfig struct {
	HeartbeatInterval time.Duration
	ActiveWindow      time.Duration
	SweepInterval     time.Duration
	RefetchDelay      time.Duration

	DenoiseSampleThreshold int
	DenoiseWindow          time.Duration
	HighResWindow          time.Duration
	CoarseInterval         time.Duration
	MaxSamples             int
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
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("admin.token_ttl_minutes", 30)
	configViper.SetDefault("geo.endpoint", defaultGeoEndpoint)

	configViper.SetDefault("presence.heartbeat_interval", "5s")
	configViper.SetDefault("presence.active_window", "30s")
	configViper.SetDefault("presence.sweep_interval", "5s")
	configViper.SetDefault("presence.refetch_delay", "5s")
	configViper.SetDefault("presence.history.denoise_threshold", 20)
	configViper.SetDefault("presence.history.denoise_window", "60s")
	configViper.SetDefault("presence.history.highres_window", "5m")
	configViper.SetDefault("presence.history.coarse_interval", "1m")
	configViper.SetDefault("presence.history.max_samples", 200)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("admin.signing_secret"),
		AdminKey:      configViper.GetString("admin.access_key"),
		TokenTTL:      time.Duration(configViper.GetInt("admin.token_ttl_minutes")) * time.Minute,
		GeoEndpoint:   configViper.GetString("geo.endpoint"),
		Presence: PresenceConfig{
			HeartbeatInterval:      configViper.GetDuration("presence.heartbeat_interval"),
			ActiveWindow:           configViper.GetDuration("presence.active_window"),
			SweepInterval:          configViper.GetDuration("presence.sweep_interval"),
			RefetchDelay:           configViper.GetDuration("presence.refetch_delay"),
			DenoiseSampleThreshold: configViper.GetInt("presence.history.denoise_threshold"),
			DenoiseWindow:          configViper.GetDuration("presence.history.denoise_window"),
			HighResWindow:          configViper.GetDuration("presence.history.highres_window"),
			CoarseInterval:         configViper.GetDuration("presence.history.coarse_interval"),
			MaxSamples:             configViper.GetInt("presence.history.max_samples"),
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("admin.signing_secret is required")
	}
	if strings.TrimSpace(c.AdminKey) == "" {
		return fmt.Errorf("admin.access_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Presence.ActiveWindow <= 0 {
		return fmt.Errorf("presence.active_window must be positive")
	}
	if c.Presence.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be positive")
	}
	if c.Presence.HeartbeatInterval >= c.Presence.ActiveWindow {
		return fmt.Errorf("presence.heartbeat_interval must be shorter than presence.active_window")
	}
	return nil
}
