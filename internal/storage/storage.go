// internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"photopipe/internal/models"
)

// Storage keeps photo records in the Postgres "photos" table.
type Storage struct {
	pool *pgxpool.Pool
	db   *sql.DB // For migrations
}

func NewStorage(ctx context.Context, dsn string) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		pool.Close()
		return nil, fmt.Errorf("%s: %v", op, err)
	}

	return &Storage{pool: pool, db: db}, nil
}

// Migrate applies pending schema migrations without keeping a pool open.
func Migrate(ctx context.Context, dsn string) error {
	s, err := NewStorage(ctx, dsn)
	if err != nil {
		return err
	}
	s.Close()
	return nil
}

func (s *Storage) Close() {
	s.db.Close()
	s.pool.Close()
}

// UpsertPhoto inserts the record or replaces its mutable columns. uploaded_at
// is never overwritten.
func (s *Storage) UpsertPhoto(ctx context.Context, p *models.Photo) error {
	const op = "storage.UpsertPhoto"

	result := p.Result
	if result == nil {
		result = []string{}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO photos (partition_key, row_key, uploaded_at, url, state, result)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (partition_key, row_key) DO UPDATE SET
			url = EXCLUDED.url,
			state = EXCLUDED.state,
			result = EXCLUDED.result`,
		p.PartitionKey, p.RowKey, p.Timestamp, p.URL, string(p.State), result)
	if err != nil {
		return fmt.Errorf("%s: %v", op, err)
	}
	return nil
}

func (s *Storage) GetPhoto(ctx context.Context, id string) (*models.Photo, error) {
	const op = "storage.GetPhoto"

	row := s.pool.QueryRow(ctx,
		`SELECT partition_key, row_key, uploaded_at, url, state, result
		 FROM photos WHERE partition_key = $1 AND row_key = $1`, id)

	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %s: %w", op, id, models.ErrPhotoNotFound)
		}
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return p, nil
}

// ListPhotos returns every record in the table.
func (s *Storage) ListPhotos(ctx context.Context) ([]models.Photo, error) {
	const op = "storage.ListPhotos"

	rows, err := s.pool.Query(ctx,
		`SELECT partition_key, row_key, uploaded_at, url, state, result FROM photos`)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	defer rows.Close()

	photos := []models.Photo{}
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", op, err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v", op, err)
	}
	return photos, nil
}

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	var p models.Photo
	var state string
	if err := row.Scan(&p.PartitionKey, &p.RowKey, &p.Timestamp, &p.URL, &state, &p.Result); err != nil {
		return nil, err
	}
	p.State = models.State(state)
	p.Timestamp = p.Timestamp.UTC()
	if p.Result == nil {
		p.Result = []string{}
	}
	return &p, nil
}
