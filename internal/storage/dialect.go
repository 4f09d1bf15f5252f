package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect groups the drivers that share SQL syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
)

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite
	case "mysql":
		return DialectMySQL
	case "postgres", "pgx":
		return DialectPostgres
	default:
		return Dialect(strings.ToLower(driver))
	}
}

// Rebind rewrites '?' placeholders into $n for postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InsertID runs an INSERT and returns the generated id. Postgres has no
// LastInsertId, so the statement gets a RETURNING clause there.
func (d Dialect) InsertID(ctx context.Context, db Execer, query string, args ...any) (int64, error) {
	if d == DialectPostgres {
		var id int64
		if err := db.QueryRowContext(ctx, d.Rebind(query)+" RETURNING id", args...).Scan(&id); err != nil {
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

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time scans DATETIME columns whatever shape the driver hands back:
// time.Time, text or unix seconds.
type Time struct {
	time.Time
}

func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case int64:
		t.Time = time.Unix(v, 0).UTC()
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("storage: cannot scan %T into time", src)
	}
	return nil
}

func (t Time) Value() (driver.Value, error) {
	return t.Time.UTC(), nil
}

func (t *Time) parse(s string) error {
	s = strings.TrimSpace(s)
	// mattn/go-sqlite3 may append the monotonic clock suffix.
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("storage: unrecognised time %q", s)
}
