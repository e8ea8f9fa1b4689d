package db

import (
	"context"
	"errors"
	"fmt"

	"blog_migrator/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const configColumns = `id, blog_name, blog_id, api_key, email_address, smtp_server, smtp_port,
        smtp_username, smtp_password, publish_method, is_default, created_at, updated_at`

// CreateConfig сохраняет конфигурацию публикации. Если она по умолчанию,
// прежняя снимается с флага в той же транзакции.
func (db *Database) CreateConfig(ctx context.Context, cfg *models.PublisherConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if cfg.IsDefault {
			if _, err := tx.Exec(ctx, `
                UPDATE publisher_configs SET is_default = false, updated_at = now()
                WHERE is_default
            `); err != nil {
				return fmt.Errorf("clear default config: %w", err)
			}
		}
		err := tx.QueryRow(ctx, `
            INSERT INTO publisher_configs (id, blog_name, blog_id, api_key, email_address, smtp_server,
                smtp_port, smtp_username, smtp_password, publish_method, is_default)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
            RETURNING created_at, updated_at
        `, cfg.ID, cfg.BlogName, cfg.BlogID, cfg.APIKey, cfg.EmailAddress, cfg.SMTPServer,
			cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, string(cfg.PublishMethod), cfg.IsDefault,
		).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create config: %w", err)
		}
		return nil
	})
}

// UpdateConfig перезаписывает конфигурацию.
func (db *Database) UpdateConfig(ctx context.Context, cfg *models.PublisherConfig) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if cfg.IsDefault {
			if _, err := tx.Exec(ctx, `
                UPDATE publisher_configs SET is_default = false, updated_at = now()
                WHERE is_default AND id <> $1
            `, cfg.ID); err != nil {
				return fmt.Errorf("clear default config: %w", err)
			}
		}
		err := tx.QueryRow(ctx, `
            UPDATE publisher_configs SET blog_name = $2, blog_id = $3, api_key = $4, email_address = $5,
                smtp_server = $6, smtp_port = $7, smtp_username = $8, smtp_password = $9,
                publish_method = $10, is_default = $11,
                updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
            WHERE id = $1
            RETURNING created_at, updated_at
        `, cfg.ID, cfg.BlogName, cfg.BlogID, cfg.APIKey, cfg.EmailAddress, cfg.SMTPServer,
			cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, string(cfg.PublishMethod), cfg.IsDefault,
		).Scan(&cfg.CreatedAt, &cfg.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("update config: %w", err)
		}
		return nil
	})
}

// SetDefaultConfig делает id единственной конфигурацией по умолчанию.
func (db *Database) SetDefaultConfig(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            UPDATE publisher_configs SET is_default = false, updated_at = now()
            WHERE is_default AND id <> $1
        `, id); err != nil {
			return fmt.Errorf("clear default config: %w", err)
		}
		tag, err := tx.Exec(ctx, `
            UPDATE publisher_configs SET is_default = true, updated_at = now()
            WHERE id = $1
        `, id)
		if err != nil {
			return fmt.Errorf("set default config: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
}

func (db *Database) GetConfig(ctx context.Context, id string) (*models.PublisherConfig, error) {
	cfg, err := scanConfig(db.Pool.QueryRow(ctx, `SELECT `+configColumns+` FROM publisher_configs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	return cfg, nil
}

// GetDefaultConfig возвращает конфигурацию по умолчанию или nil.
func (db *Database) GetDefaultConfig(ctx context.Context) (*models.PublisherConfig, error) {
	cfg, err := scanConfig(db.Pool.QueryRow(ctx, `SELECT `+configColumns+` FROM publisher_configs WHERE is_default`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get default config: %w", err)
	}
	return cfg, nil
}

func (db *Database) ListConfigs(ctx context.Context) ([]models.PublisherConfig, error) {
	rows, err := db.Pool.Query(ctx, `SELECT `+configColumns+` FROM publisher_configs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list configs: %w", err)
	}
	defer rows.Close()

	var configs []models.PublisherConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func (db *Database) DeleteConfig(ctx context.Context, id string) error {
	tag, err := db.Pool.Exec(ctx, `DELETE FROM publisher_configs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func scanConfig(row rowScanner) (*models.PublisherConfig, error) {
	var (
		cfg    models.PublisherConfig
		method string
	)
	err := row.Scan(&cfg.ID, &cfg.BlogName, &cfg.BlogID, &cfg.APIKey, &cfg.EmailAddress, &cfg.SMTPServer,
		&cfg.SMTPPort, &cfg.SMTPUsername, &cfg.SMTPPassword, &method, &cfg.IsDefault, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cfg.PublishMethod = models.PublishMethod(method)
	return &cfg, nil
}
