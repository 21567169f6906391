package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/atsguard/internal/querysql"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// SQLiteDriverName is the database/sql driver whose connections carry a
// session tenant. SQL can read it through ats_current_tenant() but only the
// store can set it.
const SQLiteDriverName = "sqlite3_atsguard"

// Dialect names accepted by OpenDialect.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// dialect captures the differences between the supported databases.
type dialect struct {
	name        string
	driver      string
	placeholder querysql.Placeholder
	schema      string

	// setTenant points the session of conn at a tenant. An empty id clears it.
	setTenant func(ctx context.Context, conn *sql.Conn, tenantID string) error
}

var (
	sqliteDialect = dialect{
		name:        DialectSQLite,
		driver:      SQLiteDriverName,
		placeholder: querysql.Question,
		schema:      sqliteSchema,
		setTenant:   setSQLiteTenant,
	}

	postgresDialect = dialect{
		name:        DialectPostgres,
		driver:      "postgres",
		placeholder: querysql.Dollar,
		schema:      postgresSchema,
		setTenant:   setPostgresTenant,
	}
)

// rebind rewrites ? placeholders to $n for Postgres. Only used on statements
// written in this package, which never contain a literal '?'.
func (d dialect) rebind(query string) string {
	if d.placeholder != querysql.Dollar {
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

// errForeignConn is returned when a pooled connection was not opened by
// tenantDriver.
var errForeignConn = errors.New("connection has no tenant session")

func setSQLiteTenant(ctx context.Context, conn *sql.Conn, tenantID string) error {
	return conn.Raw(func(dc any) error {
		tc, ok := dc.(*tenantConn)
		if !ok {
			return errForeignConn
		}
		tc.tenant.set(tenantID)
		return nil
	})
}

func setPostgresTenant(ctx context.Context, conn *sql.Conn, tenantID string) error {
	_, err := conn.ExecContext(ctx, "SELECT set_config('app.current_tenant', $1, false)", tenantID)
	return err
}

func init() {
	sql.Register(SQLiteDriverName, &tenantDriver{})
}

// tenantDriver opens SQLite connections that carry a session tenant.
type tenantDriver struct {
	sqlite3.SQLiteDriver
}

func (d *tenantDriver) Open(dsn string) (driver.Conn, error) {
	c, err := d.SQLiteDriver.Open(dsn)
	if err != nil {
		return nil, err
	}
	conn := &tenantConn{SQLiteConn: c.(*sqlite3.SQLiteConn)}
	if err := conn.configure(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// tenantConn is a SQLite connection with its session tenant. The tenant is
// set from Go through sql.Conn.Raw; SQL only sees the getter.
type tenantConn struct {
	*sqlite3.SQLiteConn
	tenant connTenant
}

// connTenant holds the tenant of one SQLite connection.
type connTenant struct {
	mu sync.Mutex
	id string
}

func (c *connTenant) set(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *connTenant) get() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// configure runs for every new SQLite connection. Connection-scoped pragmas
// live here so a replacement connection is configured identically.
func (c *tenantConn) configure() error {
	if err := c.RegisterFunc("ats_current_tenant", c.tenant.get, false); err != nil {
		return err
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := c.Exec(pragma, nil); err != nil {
			return err
		}
	}
	return nil
}
