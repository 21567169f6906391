package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/roach88/atsguard/internal/querysql"
	"github.com/roach88/atsguard/internal/tenant"
)

// Schema version tracking (SQLite user_version):
// 0 - empty database
// 1 - initial atsguard schema
const currentSchemaVersion = 1

// resetTimeout bounds the tenant reset at connection checkin. It runs on a
// fresh context so a cancelled request still clears its connection.
const resetTimeout = 5 * time.Second

// Store provides tenant-isolated storage over SQLite or Postgres.
type Store struct {
	db       *sql.DB
	dialect  dialect
	compiler *querysql.SQLCompiler
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for connection and security events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - A single connection, SQLite allows one writer at a time
//   - 5-second busy timeout and foreign keys (set per connection)
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open(SQLiteDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := newStore(db, sqliteDialect, opts)
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres connects to Postgres with a pool of at most maxOpen
// connections and applies the schema.
func OpenPostgres(dsn string, maxOpen int, opts ...Option) (*Store, error) {
	db, err := sql.Open(postgresDialect.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
		db.SetMaxIdleConns(maxOpen)
	}

	s := newStore(db, postgresDialect, opts)
	if err := s.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDialect opens a store by dialect name ("sqlite" or "postgres").
func OpenDialect(name, dsn string, maxOpen int, opts ...Option) (*Store, error) {
	switch name {
	case DialectSQLite, "":
		return Open(dsn, opts...)
	case DialectPostgres:
		return OpenPostgres(dsn, maxOpen, opts...)
	default:
		return nil, fmt.Errorf("unknown database dialect %q", name)
	}
}

func newStore(db *sql.DB, d dialect, opts []Option) *Store {
	s := &Store{
		db:       db,
		dialect:  d,
		compiler: querysql.NewSQLCompiler(d.placeholder),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if s.dialect.name == DialectSQLite {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}
	if err := s.applySchema(ctx); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect returns "sqlite" or "postgres".
func (s *Store) Dialect() string {
	return s.dialect.name
}

// applySchema creates tables, policies and triggers. It is idempotent.
func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if s.dialect.name != DialectSQLite {
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// SchemaVersion reports the applied SQLite schema version. Postgres always
// reports currentSchemaVersion since its schema is applied in full on Open.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if s.dialect.name != DialectSQLite {
		return currentSchemaVersion, nil
	}
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

// TxFunc is a unit of work run inside a tenant scope.
type TxFunc func(tx *Tx) error

// WithTenantScope runs fn in a read-write transaction on a dedicated
// connection whose session tenant is set to scope's tenant.
//
// The transaction commits when fn returns nil and rolls back when fn returns
// an error, panics, or ctx is cancelled before commit. The session tenant is
// cleared when the connection is returned; a connection that cannot be
// cleared is discarded.
//
// Writes are refused with an AUTHORIZATION AccessError while the tenant is
// deactivated.
//
// fn must do all its storage work through tx. On SQLite the store has a
// single connection, so calling other Store methods from fn deadlocks.
func (s *Store) WithTenantScope(ctx context.Context, scope tenant.Scope, fn TxFunc) error {
	return s.runScoped(ctx, scope, true, fn)
}

// ViewTenantScope is WithTenantScope for read-only work. It is allowed on a
// deactivated tenant.
func (s *Store) ViewTenantScope(ctx context.Context, scope tenant.Scope, fn TxFunc) error {
	return s.runScoped(ctx, scope, false, fn)
}

func (s *Store) runScoped(ctx context.Context, scope tenant.Scope, write bool, fn TxFunc) (err error) {
	if !scope.Valid() {
		return tenant.ErrNoScope
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("checkout connection: %w", err)
	}
	defer s.checkin(conn, scope)

	if err := s.dialect.setTenant(ctx, conn, scope.TenantID()); err != nil {
		return fmt.Errorf("set tenant scope: %w", err)
	}

	sqlTx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: !write})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	tx := &Tx{tx: sqlTx, scope: scope, store: s}

	if write {
		if err := tx.requireActiveTenant(ctx); err != nil {
			_ = sqlTx.Rollback()
			return err
		}
	}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translateError(scope, "", "", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// checkin clears the session tenant and releases the connection. When the
// reset fails the driver connection is marked bad, which makes database/sql
// close it instead of returning it to the pool.
func (s *Store) checkin(conn *sql.Conn, scope tenant.Scope) {
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	if err := s.dialect.setTenant(ctx, conn, ""); err != nil {
		s.logger.Warn("discarding connection after failed tenant reset",
			zap.String("tenant_id", scope.TenantID()),
			zap.Error(err),
		)
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	}
	_ = conn.Close()
}

// currentSessionTenant reports the session tenant of a pooled connection.
// Used by tests to prove checkin cleared the setting.
func (s *Store) currentSessionTenant(ctx context.Context) (string, error) {
	query := "SELECT ats_current_tenant()"
	if s.dialect.name == DialectPostgres {
		query = "SELECT COALESCE(current_setting('app.current_tenant', true), '')"
	}
	var id string
	if err := s.db.QueryRowContext(ctx, query).Scan(&id); err != nil {
		return "", fmt.Errorf("read session tenant: %w", err)
	}
	return id, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
