package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lightningnetwork/lnd/fn/v2"
	_ "modernc.org/sqlite"

	"fwdbot/internal/tenant"
	logx "fwdbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/fwdbot.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := migrateSQLite(db, log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

type migrateLogger struct{ log logx.Logger }

func (m migrateLogger) Printf(format string, v ...any) {
	m.log.Debug(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (m migrateLogger) Verbose() bool { return false }

// migrateSQLite applies the embedded migrations up to the latest version.
// The migrate instance is not closed since that would close db.
func migrateSQLite(db *sql.DB, log logx.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return err
	}
	m.Log = migrateLogger{log: log}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	if dirty {
		return fmt.Errorf("database is dirty at version %d, manual intervention required", version)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	after, _, _ := m.Version()
	log.Debug("sqlite schema ready", logx.Uint64("from", uint64(version)), logx.Uint64("to", uint64(after)))
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const tenantColumns = `id, username, enabled, premium, banned, delay_seconds, window_start, window_stop, source, accounts, group_ids, created_at`

func (s *sqliteStore) Ensure(ctx context.Context, id int64) (tenant.Tenant, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, delay_seconds, created_at) VALUES(?,?,?) ON CONFLICT(id) DO NOTHING`,
		id, tenant.DefaultDelaySeconds, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return tenant.Tenant{}, err
	}
	return s.Get(ctx, id)
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Tenant{}, ErrNotFound
	}
	return t, err
}

func (s *sqliteStore) List(ctx context.Context) ([]tenant.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tenant.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Set(ctx context.Context, id int64, f tenant.Field, v any) error {
	col, arg, err := sqlColumn(f, v)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET `+col+` = ? WHERE id = ?`, arg, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendLog(ctx context.Context, id int64, line string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tenant_logs(tenant_id, at, line) VALUES(?,?,?)`,
		id, time.Now().UTC().Format(time.RFC3339Nano), line,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tenant_logs WHERE tenant_id = ? AND id NOT IN (
			SELECT id FROM tenant_logs WHERE tenant_id = ? ORDER BY id DESC LIMIT ?)`,
		id, id, MaxLogEntries,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Logs(ctx context.Context, id int64, n int) ([]LogEntry, error) {
	if n <= 0 {
		n = MaxLogEntries
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, line FROM (
			SELECT id, at, line FROM tenant_logs WHERE tenant_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, id, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var at, line string
		if err := rows.Scan(&at, &line); err != nil {
			return nil, err
		}
		ts, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, LogEntry{At: ts, Line: line})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(r rowScanner) (tenant.Tenant, error) {
	var (
		rec                      record
		enabled, premium, banned int
		start, stop, source      sql.NullString
		accounts, groups         string
		created                  string
	)
	err := r.Scan(&rec.ID, &rec.Username, &enabled, &premium, &banned, &rec.DelaySeconds,
		&start, &stop, &source, &accounts, &groups, &created)
	if err != nil {
		return tenant.Tenant{}, err
	}
	rec.Enabled, rec.Premium, rec.Banned = enabled != 0, premium != 0, banned != 0
	if start.Valid {
		rec.WindowStart = &start.String
	}
	if stop.Valid {
		rec.WindowStop = &stop.String
	}
	if source.Valid {
		v, err := decodeValue(tenant.FieldSource, []byte(source.String))
		if err != nil {
			return tenant.Tenant{}, err
		}
		rec.Source = sourcePtr(v.(fn.Option[tenant.SourceRef]))
	}
	if err := jsonField(tenant.FieldAccounts, accounts, &rec.Accounts); err != nil {
		return tenant.Tenant{}, err
	}
	if err := jsonField(tenant.FieldGroups, groups, &rec.Groups); err != nil {
		return tenant.Tenant{}, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return rec.tenant()
}

func jsonField[T any](f tenant.Field, raw string, dst *T) error {
	v, err := decodeValue(f, []byte(raw))
	if err != nil {
		return err
	}
	*dst = v.(T)
	return nil
}

// sqlColumn maps a field write onto its column and SQL argument.
func sqlColumn(f tenant.Field, v any) (string, any, error) {
	raw, err := encodeValue(f, v)
	if err != nil {
		return "", nil, err
	}
	switch f {
	case tenant.FieldUsername:
		return "username", v, nil
	case tenant.FieldEnabled, tenant.FieldPremium, tenant.FieldBanned:
		n := 0
		if v.(bool) {
			n = 1
		}
		return string(f), n, nil
	case tenant.FieldDelay:
		return "delay_seconds", v, nil
	case tenant.FieldWindowStart, tenant.FieldWindowStop:
		var arg any
		if p := clockPtr(v.(fn.Option[tenant.Clock])); p != nil {
			arg = *p
		}
		return string(f), arg, nil
	case tenant.FieldSource:
		if v.(fn.Option[tenant.SourceRef]).IsNone() {
			return "source", nil, nil
		}
		return "source", string(raw), nil
	case tenant.FieldAccounts:
		if v.(map[string]string) == nil {
			raw = []byte("{}")
		}
		return "accounts", string(raw), nil
	case tenant.FieldGroups:
		if v.([]int64) == nil {
			raw = []byte("[]")
		}
		return "group_ids", string(raw), nil
	}
	return "", nil, fmt.Errorf("unknown tenant field %q", f)
}
