// Package sqlstore keeps every collection in a single generic table, with the
// record fields stored as JSON text. It runs on SQLite (modernc.org/sqlite)
// and on Postgres through the pgx database/sql driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/spigell/shortlister/internal/store"
	"github.com/spigell/shortlister/internal/utils"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	defaultPingTimeout = 30 * time.Second
)

type Config struct {
	// Driver is "sqlite" or "pgx". "postgres" is accepted as an alias of "pgx".
	Driver       string
	DSN          string
	MaxOpenConns int
	PingTimeout  time.Duration
}

type Store struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects, waits for the database to answer and creates the records
// table when it is missing.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", DriverSQLite, "sqlite3":
		driver = DriverSQLite
	case DriverPostgres, "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sql dsn is required")
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &Store{db: db, driver: driver, now: time.Now}

	if err := s.waitReady(ctx, cfg.PingTimeout, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) waitReady(ctx context.Context, timeout time.Duration, logger *zap.Logger) error {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	deadline := time.Now().Add(timeout)
	backoff := 500 * time.Millisecond
	for {
		err := s.db.PingContext(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("ping %s: %w", s.driver, err)
		}

		logger.Warn("database not ready yet", zap.String("driver", s.driver), zap.Error(err))
		if err := utils.WaitFor(ctx, backoff); err != nil {
			return err
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) migrate(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id         ` + idColumn + `,
			collection TEXT NOT NULL,
			fields     TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS records_collection_idx ON records (collection, id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (*store.Record, error) {
	key, err := parseID(c, id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, fields, created_at FROM records WHERE collection = ? AND id = ?`),
		string(c), key,
	)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", c, id, err)
	}
	return rec, nil
}

func (s *Store) Query(ctx context.Context, c store.Collection, f store.Filter) ([]*store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, fields, created_at FROM records WHERE collection = ? ORDER BY id`),
		string(c),
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}
	defer rows.Close()

	var out []*store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c, err)
		}
		if f.Match(rec.Fields) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", c, err)
	}

	return out, nil
}

func (s *Store) Create(ctx context.Context, c store.Collection, fields map[string]any) (*store.Record, error) {
	if fields == nil {
		fields = map[string]any{}
	}

	encoded, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", c, err)
	}

	createdAt := s.now().UTC()

	var id int64
	err = s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO records (collection, fields, created_at) VALUES (?, ?, ?) RETURNING id`),
		string(c), string(encoded), createdAt.Format(time.RFC3339Nano),
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", c, err)
	}

	// Reload through JSON so callers see the same value types Get returns.
	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", c, err)
	}

	return &store.Record{ID: strconv.FormatInt(id, 10), CreatedAt: createdAt, Fields: decoded}, nil
}

func (s *Store) Update(ctx context.Context, c store.Collection, id string, fields map[string]any) (*store.Record, error) {
	key, err := parseID(c, id)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update %s/%s: %w", c, id, err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx,
		s.rebind(`SELECT id, fields, created_at FROM records WHERE collection = ? AND id = ?`),
		string(c), key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", c, id, err)
	}

	for k, v := range fields {
		rec.Fields[k] = v
	}

	encoded, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("encode %s fields: %w", c, err)
	}

	if _, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE records SET fields = ? WHERE collection = ? AND id = ?`),
		string(encoded), string(c), key,
	); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", c, id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update %s/%s: %w", c, id, err)
	}

	if err := json.Unmarshal(encoded, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode %s fields: %w", c, err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, c store.Collection, id string) error {
	key, err := parseID(c, id)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM records WHERE collection = ? AND id = ?`),
		string(c), key,
	)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", c, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	return nil
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*store.Record, error) {
	var (
		id        int64
		fields    string
		createdAt string
	)
	if err := row.Scan(&id, &fields, &createdAt); err != nil {
		return nil, err
	}

	rec := &store.Record{ID: strconv.FormatInt(id, 10)}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %d: %w", id, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at of %d: %w", id, err)
	}
	rec.CreatedAt = ts

	return rec, nil
}

func parseID(c store.Collection, id string) (int64, error) {
	key, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s/%s: %w", c, id, store.ErrNotFound)
	}
	return key, nil
}
