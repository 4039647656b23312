// Package startup provides utilities for service initialization including
// registered-service auto-registration from configuration files.
package startup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/repository"
)

// ServiceDefinition represents one service registration in the
// auto-registration configuration file.
type ServiceDefinition struct {
	Name           string `json:"name"`
	ServiceURL     string `json:"service_url"`
	Enabled        *bool  `json:"enabled,omitempty"`
	SSOEnabled     *bool  `json:"sso_enabled,omitempty"`
	AllowedToProxy bool   `json:"allowed_to_proxy,omitempty"`
	LogoutType     string `json:"logout_type,omitempty"`
	LogoutURL      string `json:"logout_url,omitempty"`
	// Secret is the plaintext back-channel shared secret; it is hashed
	// before storage and never persisted as given.
	Secret string `json:"secret,omitempty"`
}

// ServiceRegistrar seeds the service registry from a configuration file
// during startup.
type ServiceRegistrar struct {
	config *config.Config
	repo   repository.ServiceRepository
	logger *logrus.Logger
}

// NewServiceRegistrar creates a service auto-registration helper.
func NewServiceRegistrar(cfg *config.Config, repo repository.ServiceRepository, logger *logrus.Logger) *ServiceRegistrar {
	return &ServiceRegistrar{
		config: cfg,
		repo:   repo,
		logger: logger,
	}
}

// RegisterServices registers services from the configured definitions file.
// Definitions whose service URL pattern is already registered are skipped,
// making repeated startups idempotent.
func (sr *ServiceRegistrar) RegisterServices(ctx context.Context) error {
	if !sr.config.ServiceAutoRegister.Enabled {
		return nil
	}

	configPath := sr.config.ServiceAutoRegister.ConfigPath
	if err := validateConfigPath(configPath); err != nil {
		sr.logger.WithError(err).Error("Invalid service config path")
		return fmt.Errorf("invalid config path: %w", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		sr.logger.WithField("config_path", configPath).Warn("Service config file not found, skipping auto-registration")
		return nil
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open service config file: %w", err)
	}
	defer file.Close()

	var definitions []ServiceDefinition
	if decodeErr := json.NewDecoder(file).Decode(&definitions); decodeErr != nil {
		return fmt.Errorf("failed to parse service config file: %w", decodeErr)
	}

	existing, err := sr.repo.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list existing registrations: %w", err)
	}
	registered := make(map[string]bool, len(existing))
	for _, rs := range existing {
		registered[rs.ServiceURL] = true
	}

	sr.logger.WithFields(logrus.Fields{
		"config_path":   configPath,
		"service_count": len(definitions),
	}).Info("Auto-registering services from config file")

	for i, def := range definitions {
		if registered[def.ServiceURL] {
			sr.logger.WithField("service_url", def.ServiceURL).Debug("Service already registered, skipping")
			continue
		}

		rs, buildErr := sr.buildRegistration(def)
		if buildErr != nil {
			sr.logger.WithFields(logrus.Fields{
				"service_name": def.Name,
				"error":        buildErr,
			}).Error("Invalid service definition, skipping")
			continue
		}

		if createErr := sr.repo.CreateService(ctx, rs); createErr != nil {
			sr.logger.WithFields(logrus.Fields{
				"service_name": def.Name,
				"error":        createErr,
			}).Error("Failed to register service from config")
			continue
		}

		sr.logger.WithFields(logrus.Fields{
			"service_id":   rs.ID,
			"service_name": rs.Name,
			"service_url":  rs.ServiceURL,
			"index":        i + 1,
			"total":        len(definitions),
		}).Info("Service registered from config")
	}

	return nil
}

// buildRegistration converts a definition to a registration, applying
// defaults and hashing the shared secret.
func (sr *ServiceRegistrar) buildRegistration(def ServiceDefinition) (*models.RegisteredService, error) {
	if def.Name == "" || def.ServiceURL == "" {
		return nil, errors.New("name and service_url are required")
	}

	logoutType := models.LogoutTypeNone
	switch strings.ToUpper(def.LogoutType) {
	case "", string(models.LogoutTypeNone):
	case string(models.LogoutTypeBackChannel):
		logoutType = models.LogoutTypeBackChannel
	case string(models.LogoutTypeFrontChannel):
		logoutType = models.LogoutTypeFrontChannel
	default:
		return nil, fmt.Errorf("unknown logout type %q", def.LogoutType)
	}

	rs := &models.RegisteredService{
		Name:           def.Name,
		ServiceURL:     def.ServiceURL,
		Enabled:        def.Enabled == nil || *def.Enabled,
		SSOEnabled:     def.SSOEnabled == nil || *def.SSOEnabled,
		AllowedToProxy: def.AllowedToProxy,
		LogoutType:     logoutType,
		LogoutURL:      def.LogoutURL,
	}

	if def.Secret != "" {
		hash, err := auth.HashSecret(def.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash service secret: %w", err)
		}
		rs.SecretHash = hash
	}

	return rs, nil
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if filepath.IsAbs(cleanPath) {
		if err := validateAbsolutePath(cleanPath); err != nil {
			return err
		}
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}

// validateAbsolutePath checks if an absolute path is in allowed directories.
func validateAbsolutePath(cleanPath string) error {
	allowedPrefixes := []string{
		"/app/configs/",
		"/opt/app/configs/",
		"/usr/local/app/configs/",
	}

	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(cleanPath, prefix) {
			return nil
		}
	}

	// For development, also allow the configs/ directory under the working directory
	cwd, err := os.Getwd()
	if err == nil {
		configsDir := filepath.Join(cwd, "configs")
		if strings.HasPrefix(cleanPath, configsDir) {
			return nil
		}
	}

	return errors.New("absolute paths not allowed outside of permitted directories")
}
