// Package config provides configuration management for the SSO ticket service.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// loadYAMLOverrides loads operational configuration from YAML files based on
// the environment. It first loads defaults.yaml, then overlays
// environment-specific configuration (local.yaml, nonprod.yaml, or prod.yaml).
// YAML files are optional; when present, the tunables they name take
// precedence over environment defaults.
func loadYAMLOverrides(env Environment) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigName("defaults")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	// Load defaults; absence of the whole configs directory is tolerated.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read defaults config: %w", err)
	}

	// Determine environment-specific config file
	var envConfigFile string
	switch env {
	case Local:
		envConfigFile = "local"
	case NonProd:
		envConfigFile = "nonprod"
	case Prod:
		envConfigFile = "prod"
	default:
		envConfigFile = "local"
	}

	// Load environment-specific overrides
	envViper := viper.New()
	envViper.SetConfigType("yaml")
	envViper.SetConfigName(envConfigFile)
	envViper.AddConfigPath("./configs")
	envViper.AddConfigPath("../configs")
	envViper.AddConfigPath("../../configs")

	if err := envViper.ReadInConfig(); err != nil {
		// Environment-specific config is optional
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read %s config: %w", envConfigFile, err)
		}
	}

	// Merge environment-specific config into defaults
	if err := v.MergeConfigMap(envViper.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge environment config: %w", err)
	}

	return v, nil
}

// applyYAMLOverrides overlays operational tunables from YAML configuration
// onto the environment-derived config. Only the ticket and logout tunables
// are exposed through YAML; connection settings and secrets stay in the
// environment.
func applyYAMLOverrides(cfg *Config) error {
	v, err := loadYAMLOverrides(cfg.Environment.Environment)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}

	overrideDuration(v, "ticket.tgt_time_to_live", &cfg.Ticket.TGTTimeToLive)
	overrideDuration(v, "ticket.tgt_time_to_idle", &cfg.Ticket.TGTTimeToIdle)
	overrideDuration(v, "ticket.remember_me_time_to_live", &cfg.Ticket.RememberMeTimeToLive)
	overrideDuration(v, "ticket.st_time_to_live", &cfg.Ticket.STTimeToLive)
	overrideDuration(v, "ticket.st_reuse_window", &cfg.Ticket.STReuseWindow)
	overrideDuration(v, "ticket.cleanup_interval", &cfg.Ticket.CleanupInterval)
	overrideDuration(v, "logout.dispatch_timeout", &cfg.Logout.DispatchTimeout)

	if v.IsSet("logout.enabled") {
		cfg.Logout.Enabled = v.GetBool("logout.enabled")
	}
	if v.IsSet("logout.concurrency") {
		cfg.Logout.Concurrency = v.GetInt("logout.concurrency")
	}

	return nil
}

// overrideDuration applies a YAML duration value when present.
func overrideDuration(v *viper.Viper, key string, target *time.Duration) {
	if v.IsSet(key) {
		*target = v.GetDuration(key)
	}
}
