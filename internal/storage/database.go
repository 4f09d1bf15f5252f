package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"edurag/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Open connects to the database configured under dbType.
//
// "sqlite3" uses the cgo driver, "sqlite" the pure Go one; both share the
// same schema and queries.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open(strings.ToLower(dbType), dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One writer keeps status CAS updates from tripping SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if params == "" {
				params = "parseTime=true&charset=utf8mb4"
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	case "postgres", "pgx":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
			)
			if dbCfg.Params != "" {
				dsn += "?" + dbCfg.Params
			}
		}
		db, err = sql.Open("pgx", dsn)
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
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch DialectFor(driver) {
	case DialectSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				filename TEXT NOT NULL,
				original_name TEXT NOT NULL,
				file_type TEXT NOT NULL,
				file_size INTEGER NOT NULL,
				stored_path TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				chunk_count INTEGER NOT NULL DEFAULT 0,
				vector_ids TEXT NOT NULL DEFAULT '[]',
				metadata TEXT NOT NULL DEFAULT '{}',
				attempts INTEGER NOT NULL DEFAULT 1,
				uploaded_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC)`,
			`CREATE TABLE IF NOT EXISTS query_logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				query TEXT NOT NULL,
				response TEXT NOT NULL,
				sources_used TEXT NOT NULL DEFAULT '[]',
				response_time REAL NOT NULL DEFAULT 0,
				session_id TEXT NOT NULL DEFAULT 'default',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_query_logs_created_at ON query_logs(created_at DESC)`,
		}
	case DialectMySQL:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				filename VARCHAR(512) NOT NULL,
				original_name VARCHAR(512) NOT NULL,
				file_type VARCHAR(16) NOT NULL,
				file_size BIGINT NOT NULL,
				stored_path TEXT NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'pending',
				chunk_count INT NOT NULL DEFAULT 0,
				vector_ids MEDIUMTEXT NOT NULL,
				metadata TEXT NOT NULL,
				attempts INT NOT NULL DEFAULT 1,
				uploaded_at DATETIME(6) NOT NULL,
				updated_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_documents_status (status),
				INDEX idx_documents_uploaded_at (uploaded_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS query_logs (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				query TEXT NOT NULL,
				response MEDIUMTEXT NOT NULL,
				sources_used TEXT NOT NULL,
				response_time DOUBLE NOT NULL DEFAULT 0,
				session_id VARCHAR(255) NOT NULL DEFAULT 'default',
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_query_logs_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	case DialectPostgres:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id BIGSERIAL PRIMARY KEY,
				filename TEXT NOT NULL,
				original_name TEXT NOT NULL,
				file_type TEXT NOT NULL,
				file_size BIGINT NOT NULL,
				stored_path TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'pending',
				chunk_count INTEGER NOT NULL DEFAULT 0,
				vector_ids TEXT NOT NULL DEFAULT '[]',
				metadata TEXT NOT NULL DEFAULT '{}',
				attempts INTEGER NOT NULL DEFAULT 1,
				uploaded_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_uploaded_at ON documents(uploaded_at DESC)`,
			`CREATE TABLE IF NOT EXISTS query_logs (
				id BIGSERIAL PRIMARY KEY,
				query TEXT NOT NULL,
				response TEXT NOT NULL,
				sources_used TEXT NOT NULL DEFAULT '[]',
				response_time DOUBLE PRECISION NOT NULL DEFAULT 0,
				session_id TEXT NOT NULL DEFAULT 'default',
				created_at TIMESTAMPTZ NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_query_logs_created_at ON query_logs(created_at DESC)`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
