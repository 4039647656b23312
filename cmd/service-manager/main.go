// Package main provides a CLI tool for managing registered services in the
// SSO service registry. It talks directly to the PostgreSQL registry and can
// register, list, inspect, enable, disable, and delete registrations, and
// rotate back-channel shared secrets.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/apereo/cas-sub072/internal/auth"
	"github.com/apereo/cas-sub072/internal/config"
	"github.com/apereo/cas-sub072/internal/models"
	"github.com/apereo/cas-sub072/internal/repository"
)

// ServiceDefinition mirrors one entry of the auto-registration file format,
// reused here for batch registration.
type ServiceDefinition struct {
	Name           string `json:"name"`
	ServiceURL     string `json:"service_url"`
	Enabled        *bool  `json:"enabled,omitempty"`
	SSOEnabled     *bool  `json:"sso_enabled,omitempty"`
	AllowedToProxy bool   `json:"allowed_to_proxy,omitempty"`
	LogoutType     string `json:"logout_type,omitempty"`
	LogoutURL      string `json:"logout_url,omitempty"`
	Secret         string `json:"secret,omitempty"`
}

func main() {
	var (
		action     = flag.String("action", "list", "Action to perform: register, list, get, enable, disable, delete, rotate-secret")
		configFile = flag.String("config", "", "Path to service definitions file for batch registration")
		serviceID  = flag.Int64("id", 0, "Service ID for get/enable/disable/delete/rotate-secret")
		name       = flag.String("name", "", "Service name for single registration")
		serviceURL = flag.String("url", "", "Service URL pattern (exact, or prefix ending in '*')")
		logoutType = flag.String("logout-type", "NONE", "Logout type: NONE, BACK_CHANNEL, FRONT_CHANNEL")
		logoutURL  = flag.String("logout-url", "", "Logout notification endpoint")
		secret     = flag.String("secret", "", "Back-channel shared secret (hashed before storage)")
		ssoEnabled = flag.Bool("sso", true, "Allow ticket grants without fresh credentials")
		proxy      = flag.Bool("proxy", false, "Allow the service to obtain proxy-granting tickets")
	)
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: error loading .env.local: %v\n", err)
	}

	repo, cleanup, err := connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to service registry: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch *action {
	case "register":
		switch {
		case *configFile != "":
			err = registerFromConfig(ctx, repo, *configFile)
		case *name != "" && *serviceURL != "":
			def := ServiceDefinition{
				Name:           *name,
				ServiceURL:     *serviceURL,
				SSOEnabled:     ssoEnabled,
				AllowedToProxy: *proxy,
				LogoutType:     *logoutType,
				LogoutURL:      *logoutURL,
				Secret:         *secret,
			}
			err = registerOne(ctx, repo, def)
		default:
			err = errors.New("specify -name and -url, or -config for batch registration")
		}
	case "list":
		err = listServices(ctx, repo)
	case "get":
		err = withService(ctx, repo, *serviceID, printService)
	case "enable":
		err = setEnabled(ctx, repo, *serviceID, true)
	case "disable":
		err = setEnabled(ctx, repo, *serviceID, false)
	case "delete":
		err = deleteService(ctx, repo, *serviceID)
	case "rotate-secret":
		err = rotateSecret(ctx, repo, *serviceID, *secret)
	default:
		err = fmt.Errorf("unknown action: %s", *action)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect builds a repository over a direct PostgreSQL connection using the
// same POSTGRES_* environment variables as the server.
func connect() (repository.ServiceRepository, func(), error) {
	var dbCfg config.DatabaseConfig
	if err := envconfig.Process("POSTGRES", &dbCfg); err != nil {
		return nil, nil, fmt.Errorf("failed to load database configuration: %w", err)
	}
	if dbCfg.User == "" || dbCfg.Password == "" {
		return nil, nil, errors.New("POSTGRES_SSO_DB_USER and POSTGRES_SSO_DB_PASSWORD must be set")
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s search_path=%s",
		dbCfg.Host, dbCfg.Port, dbCfg.Database, dbCfg.User, dbCfg.Password, dbCfg.SSLMode, dbCfg.Schema)

	ctx, cancel := context.WithTimeout(context.Background(), dbCfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to reach PostgreSQL: %w", err)
	}

	repo := repository.NewPostgresServiceRepository(func() *pgxpool.Pool { return pool })
	return repo, pool.Close, nil
}

func registerOne(ctx context.Context, repo repository.ServiceRepository, def ServiceDefinition) error {
	rs, err := buildRegistration(def)
	if err != nil {
		return err
	}
	if err := repo.CreateService(ctx, rs); err != nil {
		return fmt.Errorf("failed to register %s: %w", def.Name, err)
	}

	fmt.Println("Service registered successfully:")
	printService(rs)
	return nil
}

func registerFromConfig(ctx context.Context, repo repository.ServiceRepository, configPath string) error {
	if err := validateConfigPath(configPath); err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	// #nosec G304 - configPath is validated above to prevent directory traversal
	file, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var definitions []ServiceDefinition
	if err := json.NewDecoder(file).Decode(&definitions); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	fmt.Printf("Registering %d services from config...\n", len(definitions))

	for i, def := range definitions {
		fmt.Printf("[%d/%d] Registering %s...", i+1, len(definitions), def.Name)
		rs, buildErr := buildRegistration(def)
		if buildErr != nil {
			fmt.Printf(" FAILED: %v\n", buildErr)
			continue
		}
		if createErr := repo.CreateService(ctx, rs); createErr != nil {
			fmt.Printf(" FAILED: %v\n", createErr)
			continue
		}
		fmt.Printf(" SUCCESS (id %d)\n", rs.ID)
	}

	return nil
}

func buildRegistration(def ServiceDefinition) (*models.RegisteredService, error) {
	if def.Name == "" || def.ServiceURL == "" {
		return nil, errors.New("name and service_url are required")
	}

	lt := models.LogoutTypeNone
	switch strings.ToUpper(def.LogoutType) {
	case "", string(models.LogoutTypeNone):
	case string(models.LogoutTypeBackChannel):
		lt = models.LogoutTypeBackChannel
	case string(models.LogoutTypeFrontChannel):
		lt = models.LogoutTypeFrontChannel
	default:
		return nil, fmt.Errorf("unknown logout type %q", def.LogoutType)
	}

	rs := &models.RegisteredService{
		Name:           def.Name,
		ServiceURL:     def.ServiceURL,
		Enabled:        def.Enabled == nil || *def.Enabled,
		SSOEnabled:     def.SSOEnabled == nil || *def.SSOEnabled,
		AllowedToProxy: def.AllowedToProxy,
		LogoutType:     lt,
		LogoutURL:      def.LogoutURL,
	}

	if def.Secret != "" {
		hash, err := auth.HashSecret(def.Secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash secret: %w", err)
		}
		rs.SecretHash = hash
	}

	return rs, nil
}

func listServices(ctx context.Context, repo repository.ServiceRepository) error {
	services, err := repo.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	if len(services) == 0 {
		fmt.Println("No registered services.")
		return nil
	}

	fmt.Printf("%-5s %-24s %-44s %-8s %-6s %-6s %s\n", "ID", "NAME", "SERVICE URL", "ENABLED", "SSO", "PROXY", "LOGOUT")
	for _, rs := range services {
		fmt.Printf("%-5d %-24s %-44s %-8v %-6v %-6v %s\n",
			rs.ID, rs.Name, rs.ServiceURL, rs.Enabled, rs.SSOEnabled, rs.AllowedToProxy, rs.LogoutType)
	}
	return nil
}

func withService(ctx context.Context, repo repository.ServiceRepository, id int64, fn func(*models.RegisteredService)) error {
	if id == 0 {
		return errors.New("service id is required")
	}
	rs, err := repo.GetServiceByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get service %d: %w", id, err)
	}
	fn(rs)
	return nil
}

func setEnabled(ctx context.Context, repo repository.ServiceRepository, id int64, enabled bool) error {
	if id == 0 {
		return errors.New("service id is required")
	}

	rs, err := repo.GetServiceByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get service %d: %w", id, err)
	}

	rs.Enabled = enabled
	if err := repo.UpdateService(ctx, rs); err != nil {
		return fmt.Errorf("failed to update service %d: %w", id, err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Service %d (%s) %s.\n", id, rs.Name, state)
	return nil
}

func deleteService(ctx context.Context, repo repository.ServiceRepository, id int64) error {
	if id == 0 {
		return errors.New("service id is required")
	}
	if err := repo.DeleteService(ctx, id); err != nil {
		return fmt.Errorf("failed to delete service %d: %w", id, err)
	}
	fmt.Printf("Service %d deleted.\n", id)
	return nil
}

func rotateSecret(ctx context.Context, repo repository.ServiceRepository, id int64, secret string) error {
	if id == 0 {
		return errors.New("service id is required")
	}
	if secret == "" {
		return errors.New("a new secret is required")
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("failed to hash secret: %w", err)
	}
	if err := repo.UpdateServiceSecret(ctx, id, hash); err != nil {
		return fmt.Errorf("failed to rotate secret for service %d: %w", id, err)
	}

	fmt.Printf("Secret rotated for service %d.\n", id)
	return nil
}

func printService(rs *models.RegisteredService) {
	fmt.Printf("ID:            %d\n", rs.ID)
	fmt.Printf("Name:          %s\n", rs.Name)
	fmt.Printf("Service URL:   %s\n", rs.ServiceURL)
	fmt.Printf("Enabled:       %v\n", rs.Enabled)
	fmt.Printf("SSO enabled:   %v\n", rs.SSOEnabled)
	fmt.Printf("Proxy allowed: %v\n", rs.AllowedToProxy)
	fmt.Printf("Logout type:   %s\n", rs.LogoutType)
	if rs.LogoutURL != "" {
		fmt.Printf("Logout URL:    %s\n", rs.LogoutURL)
	}
	fmt.Printf("Created:       %s\n", rs.CreatedAt.Format(time.RFC3339))
}

// validateConfigPath validates the config path to prevent directory traversal attacks.
func validateConfigPath(configPath string) error {
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return errors.New("directory traversal not allowed in config path")
	}

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must be a JSON file")
	}

	return nil
}
