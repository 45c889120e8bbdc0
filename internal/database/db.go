package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyClaimed is returned when a camera record already exists
	// for the identity being persisted.
	ErrAlreadyClaimed = errors.New("camera already claimed")
)

// BunDB wraps bun.DB and provides repository access
type BunDB struct {
	db *bun.DB

	Cameras      CameraRepository
	Provisioning ProvisioningRepository
}

// Option is a functional option for configuring the database
type Option func(*BunDB)

// WithDebug enables query logging for debugging
func WithDebug(enabled bool) Option {
	return func(db *BunDB) {
		if enabled {
			db.db.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
			))
			log.Info().Msg("Bun query logging enabled")
		}
	}
}

// New opens (and migrates) the SQLite database at dbPath. ":memory:" gives a
// private in-memory database.
func New(dbPath string, opts ...Option) (*BunDB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries
	// and serializes writers.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	bunDB := &BunDB{db: db}
	for _, opt := range opts {
		opt(bunDB)
	}

	bunDB.Cameras = NewCameraRepository(db)
	bunDB.Provisioning = NewProvisioningRepository(db)

	if err := bunDB.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Database initialized")
	return bunDB, nil
}

// Close closes the database connection
func (db *BunDB) Close() error {
	return db.db.Close()
}

// Ping checks that the database is reachable.
func (db *BunDB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// Migrate creates tables and indexes that do not exist yet.
func (db *BunDB) Migrate(ctx context.Context) error {
	log.Debug().Msg("Running database migrations")

	models := []interface{}{
		(*Camera)(nil),
		(*ProvisioningRecord)(nil),
	}
	for _, model := range models {
		if _, err := db.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_cameras_user_id ON cameras(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_provisioning_records_user_id ON provisioning_records(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_provisioning_records_created_at ON provisioning_records(created_at)",
	}
	for _, idx := range indexes {
		if _, err := db.db.ExecContext(ctx, idx); err != nil {
			log.Warn().Err(err).Str("index", idx).Msg("Failed to create index")
		}
	}

	return nil
}
