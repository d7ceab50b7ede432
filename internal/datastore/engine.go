package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	pgxzero "github.com/jackc/pgx-zerolog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/roach88/repostore/internal/config"
	"github.com/roach88/repostore/internal/logger"
	"github.com/roach88/repostore/internal/mapper"
)

// Engine ids of the built-in engines.
const (
	SQLite     = "SQLite"
	PostgreSQL = "PostgreSQL"
)

// Engine describes one relational engine the store can run against.
//
// The store picks the engine whose Prefix starts the configured JDBC URL.
// Engines other than the built-ins can be added with WithEngine; they have no
// placeholder defaults, so every DDL placeholder must be configured as
// "<PLACEHOLDER>.<ID>".
type Engine struct {
	// ID is the engine id, used in placeholder keys and logs.
	ID string

	// Prefix is the JDBC URL prefix selecting the engine.
	Prefix string

	// Marker renders bind markers.
	Marker mapper.Marker

	// JSONBytes writes JSON columns as bytes instead of strings.
	JSONBytes bool

	// TimeNative binds time.Time directly.
	TimeNative bool

	// Open builds the connection pool.
	Open func(ctx context.Context, cfg *config.Store, log zerolog.Logger) (*sql.DB, error)

	// Backup copies the database to location. Nil if unsupported.
	Backup func(ctx context.Context, conn *sql.Conn, location string) error
}

// DatabaseID implements codec.Dialect.
func (e *Engine) DatabaseID() string { return e.ID }

// JSONAsBytes implements codec.Dialect.
func (e *Engine) JSONAsBytes() bool { return e.JSONBytes }

// NativeTime implements codec.Dialect.
func (e *Engine) NativeTime() bool { return e.TimeNative }

const (
	sqlitePrefix   = "jdbc:sqlite:"
	postgresPrefix = "jdbc:postgresql://"
)

func builtinEngines() []*Engine {
	return []*Engine{
		{
			ID:        SQLite,
			Prefix:    sqlitePrefix,
			Marker:    mapper.QuestionMarker,
			JSONBytes: true,
			Open:      openSQLite,
			Backup:    backupSQLite,
		},
		{
			ID:         PostgreSQL,
			Prefix:     postgresPrefix,
			Marker:     mapper.DollarMarker,
			TimeNative: true,
			Open:       openPostgres,
		},
	}
}

func selectEngine(engines []*Engine, jdbcURL string) (*Engine, error) {
	for _, e := range engines {
		if strings.HasPrefix(jdbcURL, e.Prefix) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no engine for JDBC URL %q", jdbcURL)
}

// openSQLite opens an embedded SQLite database.
//
// Every pooled connection is configured through the DSN with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// Advanced properties are passed through as further DSN parameters unless
// the DSN already sets them.
func openSQLite(ctx context.Context, cfg *config.Store, _ zerolog.Logger) (*sql.DB, error) {
	path := strings.TrimPrefix(cfg.JDBCURL, sqlitePrefix)
	if path == "" {
		return nil, fmt.Errorf("sqlite URL %q has no database path", cfg.JDBCURL)
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")

	pool, props, err := advancedSettings(cfg)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		if !params.Has(k) {
			params.Set(k, v)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time. A single connection avoids
	// SQLITE_BUSY between sessions unless the pool size is configured.
	pool.apply(db, 1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func backupSQLite(ctx context.Context, conn *sql.Conn, location string) error {
	stmt := "VACUUM INTO '" + strings.ReplaceAll(location, "'", "''") + "'"
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to back up to %s: %w", location, err)
	}
	return nil
}

var schemaNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// openPostgres opens a pgx-backed pool.
//
// Statements run in describe-exec mode: parameters are described by the
// server before binding, so string values bind to JSONB and UUID columns
// without explicit casts.
func openPostgres(ctx context.Context, cfg *config.Store, log zerolog.Logger) (*sql.DB, error) {
	connURL := "postgres://" + strings.TrimPrefix(cfg.JDBCURL, postgresPrefix)
	pgCfg, err := pgx.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres URL: %w", err)
	}
	if cfg.Username != "" {
		pgCfg.User = cfg.Username
	}
	if cfg.Password != "" {
		pgCfg.Password = cfg.Password
	}
	if cfg.Schema != "" {
		if !schemaNamePattern.MatchString(cfg.Schema) {
			return nil, fmt.Errorf("invalid schema name %q", cfg.Schema)
		}
		pgCfg.RuntimeParams["search_path"] = cfg.Schema
	}
	pgCfg.DefaultQueryExecMode = pgx.QueryExecModeDescribeExec

	pool, props, err := advancedSettings(cfg)
	if err != nil {
		return nil, err
	}
	for k, v := range props {
		if _, ok := pgCfg.RuntimeParams[k]; !ok {
			pgCfg.RuntimeParams[k] = v
		}
	}

	if tracer := statementTracer(cfg, log); tracer != nil {
		pgCfg.Tracer = tracer
	}

	db := stdlib.OpenDB(*pgCfg)
	pool.apply(db, config.DefaultMaximumPoolSize)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// statementTracer logs every statement through log when the store sets
// traceStatements. It returns nil otherwise.
func statementTracer(cfg *config.Store, log zerolog.Logger) *tracelog.TraceLog {
	if !cfg.TraceStatements {
		return nil
	}
	return &tracelog.TraceLog{
		Logger:   pgxzero.NewLogger(log.With().Str("component", "pgx").Logger()),
		LogLevel: logger.PgxTraceLevel(log.GetLevel()),
	}
}

// Pool keys of the advanced block. They configure database/sql and never
// reach the driver. Matching ignores case.
const (
	poolMaximumSize = "maximumpoolsize"
	poolMinimumIdle = "minimumidle"
	poolMaxLifetime = "maxlifetime"
	poolIdleTimeout = "idletimeout"
)

type poolSettings struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	idleTimeout time.Duration
}

// advancedSettings splits the advanced block into pool settings and driver
// properties. Durations are milliseconds. An explicit maximumPoolSize store
// setting wins over the advanced block.
func advancedSettings(cfg *config.Store) (poolSettings, map[string]string, error) {
	props, err := cfg.AdvancedProperties()
	if err != nil {
		return poolSettings{}, nil, err
	}

	var pool poolSettings
	driver := make(map[string]string, len(props))
	for k, v := range props {
		key := strings.ToLower(k)
		switch key {
		case poolMaximumSize, poolMinimumIdle, poolMaxLifetime, poolIdleTimeout:
		default:
			driver[k] = v
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return poolSettings{}, nil, fmt.Errorf("advanced %s: expected a non-negative integer, got %q", k, v)
		}
		switch key {
		case poolMaximumSize:
			pool.maxOpen = n
		case poolMinimumIdle:
			pool.maxIdle = n
		case poolMaxLifetime:
			pool.maxLifetime = time.Duration(n) * time.Millisecond
		case poolIdleTimeout:
			pool.idleTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if cfg.MaximumPoolSize > 0 {
		pool.maxOpen = cfg.MaximumPoolSize
	}
	return pool, driver, nil
}

func (p poolSettings) apply(db *sql.DB, defaultSize int) {
	size := p.maxOpen
	if size == 0 {
		size = defaultSize
	}
	idle := p.maxIdle
	if idle == 0 || idle > size {
		idle = size
	}
	db.SetMaxOpenConns(size)
	db.SetMaxIdleConns(idle)
	if p.maxLifetime > 0 {
		db.SetConnMaxLifetime(p.maxLifetime)
	}
	if p.idleTimeout > 0 {
		db.SetConnMaxIdleTime(p.idleTimeout)
	}
}
