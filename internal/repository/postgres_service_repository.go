package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/apereo/cas-sub072/internal/models"
)

// PoolGetter is a function that returns the current database connection pool.
type PoolGetter func() *pgxpool.Pool

// PostgresServiceRepository implements ServiceRepository for PostgreSQL.
type PostgresServiceRepository struct {
	getPool PoolGetter
}

// NewPostgresServiceRepository creates a new PostgreSQL service repository.
// The poolGetter function allows the repository to always use the current
// active connection pool, supporting automatic reconnection.
func NewPostgresServiceRepository(poolGetter PoolGetter) *PostgresServiceRepository {
	return &PostgresServiceRepository{
		getPool: poolGetter,
	}
}

const serviceColumns = `id, name, service_url, enabled, sso_enabled, allowed_to_proxy,
		logout_type, logout_url, secret_hash, created_at, updated_at`

// CreateService stores a new service registration.
func (r *PostgresServiceRepository) CreateService(ctx context.Context, service *models.RegisteredService) error {
	pool := r.getPool()
	if pool == nil {
		return errors.New("database connection not available")
	}

	query := `
		INSERT INTO sso.registered_services
		(name, service_url, enabled, sso_enabled, allowed_to_proxy, logout_type, logout_url, secret_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	now := time.Now()
	err := pool.QueryRow(ctx, query,
		service.Name,
		service.ServiceURL,
		service.Enabled,
		service.SSOEnabled,
		service.AllowedToProxy,
		service.LogoutType,
		service.LogoutURL,
		service.SecretHash,
		now,
		now,
	).Scan(&service.ID)

	if err != nil {
		return fmt.Errorf("failed to create registered service: %w", err)
	}

	service.CreatedAt = now
	service.UpdatedAt = now
	return nil
}

// GetServiceByID retrieves a registration by its database identifier.
func (r *PostgresServiceRepository) GetServiceByID(ctx context.Context, id int64) (*models.RegisteredService, error) {
	pool := r.getPool()
	if pool == nil {
		return nil, errors.New("database connection not available")
	}

	query := `
		SELECT ` + serviceColumns + `
		FROM sso.registered_services
		WHERE id = $1`

	service, err := scanService(pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registered service: %w", err)
	}
	return service, nil
}

// ListServices returns every service registration ordered by identifier.
func (r *PostgresServiceRepository) ListServices(ctx context.Context) ([]*models.RegisteredService, error) {
	pool := r.getPool()
	if pool == nil {
		return nil, errors.New("database connection not available")
	}

	query := `
		SELECT ` + serviceColumns + `
		FROM sso.registered_services
		ORDER BY id`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered services: %w", err)
	}
	defer rows.Close()

	var services []*models.RegisteredService
	for rows.Next() {
		service, scanErr := scanService(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan registered service: %w", scanErr)
		}
		services = append(services, service)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registered services: %w", err)
	}
	return services, nil
}

// UpdateService updates an existing registration.
func (r *PostgresServiceRepository) UpdateService(ctx context.Context, service *models.RegisteredService) error {
	pool := r.getPool()
	if pool == nil {
		return errors.New("database connection not available")
	}

	query := `
		UPDATE sso.registered_services
		SET name = $2, service_url = $3, enabled = $4, sso_enabled = $5,
			allowed_to_proxy = $6, logout_type = $7, logout_url = $8, updated_at = $9
		WHERE id = $1`

	result, err := pool.Exec(ctx, query,
		service.ID,
		service.Name,
		service.ServiceURL,
		service.Enabled,
		service.SSOEnabled,
		service.AllowedToProxy,
		service.LogoutType,
		service.LogoutURL,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to update registered service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// UpdateServiceSecret rotates the registration's secret hash.
func (r *PostgresServiceRepository) UpdateServiceSecret(ctx context.Context, id int64, newSecretHash string) error {
	pool := r.getPool()
	if pool == nil {
		return errors.New("database connection not available")
	}

	query := `
		UPDATE sso.registered_services
		SET secret_hash = $2, updated_at = $3
		WHERE id = $1`

	result, err := pool.Exec(ctx, query, id, newSecretHash, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update registered service secret: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// DeleteService removes a registration.
func (r *PostgresServiceRepository) DeleteService(ctx context.Context, id int64) error {
	pool := r.getPool()
	if pool == nil {
		return errors.New("database connection not available")
	}

	result, err := pool.Exec(ctx, `DELETE FROM sso.registered_services WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete registered service: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}

// scanService reads one registered-service row.
func scanService(row pgx.Row) (*models.RegisteredService, error) {
	var service models.RegisteredService
	err := row.Scan(
		&service.ID,
		&service.Name,
		&service.ServiceURL,
		&service.Enabled,
		&service.SSOEnabled,
		&service.AllowedToProxy,
		&service.LogoutType,
		&service.LogoutURL,
		&service.SecretHash,
		&service.CreatedAt,
		&service.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &service, nil
}
