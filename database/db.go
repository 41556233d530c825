package database

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/ramparthq/rampart/config"
	zlog "github.com/ramparthq/rampart/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaSQL is compiled into the binary at build time so that schema
// application does not depend on files shipped next to the executable.
//
//go:embed schema.sql
var schemaSQL string

var ErrInvalidDatabaseConnection = fmt.Errorf("database connection is nil")
var ErrNotFound = fmt.Errorf("record not found")

// DB is the workhorse container for messing with the database
type DB struct {
	Pool   *pgxpool.Pool
	cancel context.CancelFunc
}

// BuildDSN assembles the postgres connection string from the environment
// section of the config.
func BuildDSN(cfg *config.Config) string {
	u := url.URL{
		Scheme: "postgres",
		Host:   cfg.Env.DBConnection,
		Path:   "/" + cfg.Env.DBName,
	}
	if cfg.Env.DBUsername != "" {
		if cfg.Env.DBPassword != "" {
			u.User = url.UserPassword(cfg.Env.DBUsername, cfg.Env.DBPassword)
		} else {
			u.User = url.User(cfg.Env.DBUsername)
		}
	}
	return u.String()
}

// ConnectToDB sets up a new connection pool to the database and applies the
// embedded schema. Schema failure is fatal to the caller: the process must
// not run against a store it cannot shape.
func ConnectToDB(ctx context.Context, cfg *config.Config, cancel context.CancelFunc) (*DB, error) {
	logger := zlog.GetLogger()

	poolCfg, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database connection string: %w", err)
	}
	poolCfg.MaxConns = 16
	poolCfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	// check if the connection is valid
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{
		Pool:   pool,
		cancel: cancel,
	}

	if err := db.applySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Debug().Str("address", cfg.Env.DBConnection).Str("database", cfg.Env.DBName).Msg("connected to database")

	return db, nil
}

// applySchema executes the embedded schema DDL statements.
func (db *DB) applySchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply database schema: %w", err)
	}
	return nil
}

// Ping verifies the pool can still reach the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close gracefully closes the connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.cancel != nil {
		db.cancel()
	}
}
