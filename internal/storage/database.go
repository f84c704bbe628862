package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"snapaid/internal/config"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is a *sql.DB that rewrites "?" placeholders for drivers that use
// positional parameters, so queries can be written once.
type DB struct {
	*sql.DB
	Driver string
}

// NormalizeDriver maps accepted driver aliases onto sqlite3, mysql or postgres.
func NormalizeDriver(dbType string) string {
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "", "sqlite", "sqlite3":
		return "sqlite3"
	case "postgres", "postgresql", "pq":
		return "postgres"
	default:
		return strings.ToLower(dbType)
	}
}

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*DB, error) {
	driver := NormalizeDriver(dbType)
	dbCfg, ok := lookupConfig(cfg, dbType, driver)
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// every connection to :memory: is a separate database
		if dbCfg.DSN == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn, err := mysqlDSN(dbCfg)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres":
		dsn := dbCfg.DSN
		if dsn == "" {
			port := dbCfg.Port
			if port == 0 {
				port = 5432
			}
			dsn = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s %s",
				dbCfg.Host,
				port,
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		db, err = sql.Open("postgres", strings.TrimSpace(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// mysqlDSN builds the DSN with ClientFoundRows set, so RowsAffected counts
// matched rows rather than changed ones.
func mysqlDSN(dbCfg config.DatabaseConfig) (string, error) {
	var mc *mysql.Config
	if dbCfg.DSN != "" {
		parsed, err := mysql.ParseDSN(dbCfg.DSN)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		mc = parsed
	} else {
		params := dbCfg.Params
		if params == "" {
			params = "parseTime=true&charset=utf8mb4"
		}
		parsed, err := mysql.ParseDSN(fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		))
		if err != nil {
			return "", fmt.Errorf("build mysql dsn: %w", err)
		}
		mc = parsed
	}
	mc.ClientFoundRows = true
	return mc.FormatDSN(), nil
}

func lookupConfig(cfg *config.Config, names ...string) (config.DatabaseConfig, bool) {
	if cfg == nil {
		return config.DatabaseConfig{}, false
	}
	for _, name := range names {
		if dbCfg, ok := cfg.Databases[name]; ok {
			return dbCfg, true
		}
	}
	return config.DatabaseConfig{}, false
}

// Rebind converts "?" placeholders into the driver's native form.
func (db *DB) Rebind(query string) string {
	if db.Driver != "postgres" || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.DB.ExecContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.DB.QueryContext(ctx, db.Rebind(query), args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.DB.QueryRowContext(ctx, db.Rebind(query), args...)
}

func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	return db.DB.Exec(db.Rebind(query), args...)
}

func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	return db.DB.QueryRow(db.Rebind(query), args...)
}

// InsertReturningID runs an INSERT and returns the generated "id" column.
// lib/pq does not implement LastInsertId, so postgres uses RETURNING instead.
func (db *DB) InsertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	if db.Driver == "postgres" {
		var id int64
		if err := db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}
