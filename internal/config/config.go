package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration, loaded once at startup and passed
// explicitly into constructors. Business logic never reads the environment
// directly.
type Config struct {
	ServerPort   string `mapstructure:"SERVER_PORT"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	ClientOrigin string `mapstructure:"CLIENT_ORIGIN"`

	// Mobile-money gateway
	GatewayBaseURL     string `mapstructure:"GATEWAY_BASE_URL"`
	GatewayShortCode   string `mapstructure:"GATEWAY_SHORT_CODE"`
	GatewayPasskey     string `mapstructure:"GATEWAY_PASSKEY"`
	GatewayCallbackURL string `mapstructure:"GATEWAY_CALLBACK_URL"`
	GatewayTimeoutSec  int    `mapstructure:"GATEWAY_TIMEOUT_SEC"`

	// Customer phone numbers default to this country code when entered in
	// local format.
	PhoneCountryCode string `mapstructure:"PHONE_COUNTRY_CODE"`

	// Trip optimizer (optional; empty base URL disables it)
	RoutingBaseURL    string `mapstructure:"ROUTING_BASE_URL"`
	RoutingTimeoutSec int    `mapstructure:"ROUTING_TIMEOUT_SEC"`

	// Geofence radius for arrival detection, meters.
	GeofenceRadiusM float64 `mapstructure:"GEOFENCE_RADIUS_M"`
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig(path string) (*Config, error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("PHONE_COUNTRY_CODE", "254")
	viper.SetDefault("GATEWAY_TIMEOUT_SEC", 15)
	viper.SetDefault("ROUTING_TIMEOUT_SEC", 10)
	viper.SetDefault("GEOFENCE_RADIUS_M", 50)

	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No .env file found.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GatewayTimeout returns the configured gateway request bound.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSec) * time.Second
}

// RoutingTimeout returns the configured optimizer request bound.
func (c *Config) RoutingTimeout() time.Duration {
	return time.Duration(c.RoutingTimeoutSec) * time.Second
}
