package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Environment string
	Host        string
	Port        int

	QuotesCsvPath string `toml:"quotes_csv_path"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// postgres
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`

	// redis, used for admin sessions and rate limiting
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`

	// prometheus metrics server
	PrometheusMetricsHost string `toml:"prometheus_metrics_host"`
	PrometheusMetricsPort string `toml:"prometheus_metrics_port"`

	LoginRateLimitAllowedPerMin   int `toml:"login_rate_limit_allowed_per_min"`
	RefreshRateLimitAllowedPerMin int `toml:"refresh_rate_limit_allowed_per_min"`

	// data sync
	ScheduledRefreshMinutes int `toml:"scheduled_refresh_minutes"`

	// provider API endpoints; overridable for dev setups pointing to fakes
	OuraAPIURL        string `toml:"oura_api_url"`
	OuraAuthURL       string `toml:"oura_auth_url"`
	OuraRedirectURI   string `toml:"oura_redirect_uri"`
	StravaAPIURL      string `toml:"strava_api_url"`
	StravaAuthURL     string `toml:"strava_auth_url"`
	StravaRedirectURI string `toml:"strava_redirect_uri"`
	WithingsAPIURL    string `toml:"withings_api_url"`
	WithingsAuthURL   string `toml:"withings_auth_url"`
	WithingsRedirect  string `toml:"withings_redirect_uri"`
	PelotonAPIURL     string `toml:"peloton_api_url"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

func Load(env, path string) (*Config, error) {
	tomlBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var confToml Toml
	if err := toml.Unmarshal(tomlBytes, &confToml); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	cfg, err := confToml.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config for env %s is empty", env)
	}

	cfg.Environment = env
	return cfg, nil
}
