package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	EventChannel           string
	JWTSecret              string
	WebhookSecret          string
	AggregateStaleness     time.Duration
	AggregateRefreshPeriod time.Duration
	AggregateCacheTTL      time.Duration
	PointsAdjustmentBand   float64
	PointsMaxAward         int
	AutoMigrate            bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ELEVATE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Elevate API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.auto_migrate", true)
	v.SetDefault("events.channel", "elevate:events")
	v.SetDefault("aggregates.staleness", "15m")
	v.SetDefault("aggregates.refresh_interval", "5m")
	v.SetDefault("aggregates.cache_ttl", "1m")
	v.SetDefault("points.adjustment_band", 0.20)
	v.SetDefault("points.max_award", 1000)

	staleness, err := parseDuration(v, "aggregates.staleness")
	if err != nil {
		return Config{}, err
	}
	refreshInterval, err := parseDuration(v, "aggregates.refresh_interval")
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "aggregates.cache_ttl")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventChannel:           v.GetString("events.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		WebhookSecret:          v.GetString("webhook.secret"),
		AggregateStaleness:     staleness,
		AggregateRefreshPeriod: refreshInterval,
		AggregateCacheTTL:      cacheTTL,
		PointsAdjustmentBand:   v.GetFloat64("points.adjustment_band"),
		PointsMaxAward:         v.GetInt("points.max_award"),
		AutoMigrate:            v.GetBool("app.auto_migrate"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}
	if cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("webhook secret must be provided")
	}
	if cfg.PointsAdjustmentBand <= 0 || cfg.PointsAdjustmentBand >= 1 {
		return Config{}, fmt.Errorf("points adjustment band must be between 0 and 1, got %v", cfg.PointsAdjustmentBand)
	}
	if cfg.PointsMaxAward <= 0 {
		cfg.PointsMaxAward = 1000
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	value := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return duration, nil
}
