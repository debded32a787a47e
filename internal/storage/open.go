package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	logx "uptimebot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

type dsn struct {
	dialect dialect
	// sqlite: filesystem path or ":memory:"; postgres: the original URL.
	target string
}

// parseURL accepts sqlite:///relative/or/./path, sqlite:////abs/path,
// sqlite://:memory: and postgres:// or postgresql:// URLs.
func parseURL(raw string) (dsn, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return dsn{}, errors.New("storage: empty database url")
	}
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		if _, err := url.Parse(raw); err != nil {
			return dsn{}, fmt.Errorf("storage: bad postgres url: %w", err)
		}
		return dsn{dialect: dialectPostgres, target: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		rest := strings.TrimPrefix(raw, "sqlite://")
		if rest == ":memory:" || rest == "/:memory:" {
			return dsn{dialect: dialectSQLite, target: ":memory:"}, nil
		}
		// sqlite:///x -> "/x" -> "x"; sqlite:////x -> "//x" -> "/x"
		if !strings.HasPrefix(rest, "/") {
			return dsn{}, fmt.Errorf("storage: bad sqlite url %q", raw)
		}
		path := rest[1:]
		if path == "" {
			return dsn{}, fmt.Errorf("storage: sqlite url %q has no path", raw)
		}
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		return dsn{dialect: dialectSQLite, target: path}, nil
	default:
		return dsn{}, fmt.Errorf("storage: unsupported database url %q", raw)
	}
}

func sqliteDSN(path string, o Options) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout("+strconv.FormatInt(o.BusyTimeout.Milliseconds(), 10)+")")
	q.Add("_pragma", "foreign_keys(1)")
	if path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

// Open connects to rawURL, applies the schema and returns a ready Store.
func Open(ctx context.Context, rawURL string, opts Options, log logx.Logger) (*Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	opts = opts.withDefaults()
	d, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch d.dialect {
	case dialectSQLite:
		if d.target != ":memory:" {
			if dir := filepath.Dir(d.target); dir != "" {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("storage: create data dir: %w", err)
				}
			}
		}
		db, err = sql.Open("sqlite", sqliteDSN(d.target, opts))
		if err != nil {
			return nil, err
		}
		// One writer; also keeps :memory: on a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case dialectPostgres:
		db, err = sql.Open("postgres", d.target)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: connect %s: %w", d.dialect, err)
	}

	s := &Store{db: db, dialect: d.dialect, opts: opts, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	log.Info("storage opened", logx.String("dialect", d.dialect.String()))
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect.String() + ".sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}
