package service

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"dbinventory/internal/core"
	"dbinventory/internal/logger"
	"dbinventory/internal/metrics"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/lib/pq"
	"github.com/sony/gobreaker/v2"
)

// LoginResolver returns the clear-text login for an instance.
type LoginResolver interface {
	ResolveLogin(ctx context.Context, inst core.Instance) (username, password string, err error)
}

// Timeouts bound connection open and each catalog query.
type Timeouts struct {
	Connect time.Duration
	Query   time.Duration
}

// Connection is a short-lived handle scoped to one sync of one instance.
type Connection struct {
	db           *sql.DB
	vendor       core.Vendor
	instance     string
	queryTimeout time.Duration
}

// QueryContext runs a catalog query. The SQL text is logged at debug only.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	logger.Debug().
		Str("component", "connector").
		Str("instance", c.instance).
		Str("sql", query).
		Msg("catalog query")
	return c.db.QueryContext(ctx, query, args...)
}

func (c *Connection) Vendor() core.Vendor { return c.vendor }

func (c *Connection) QueryTimeout() time.Duration { return c.queryTimeout }

// Close is safe on a nil or zero Connection.
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// BreakerSettings configures the per-instance connect breaker.
type BreakerSettings struct {
	Failures int
	Cooldown time.Duration
}

// Connector opens fresh connections to target instances. Nothing is cached
// across calls except the breaker state of each instance.
type Connector struct {
	logins      LoginResolver
	breaker     BreakerSettings
	postgresSSL string
	open        func(ctx context.Context, driver, dsn string) (*sql.DB, error)

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker[*sql.DB]
}

func NewConnector(logins LoginResolver, breaker BreakerSettings, postgresSSLMode string) *Connector {
	if breaker.Failures <= 0 {
		breaker.Failures = 5
	}
	if breaker.Cooldown <= 0 {
		breaker.Cooldown = 60 * time.Second
	}
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}
	return &Connector{
		logins:      logins,
		breaker:     breaker,
		postgresSSL: postgresSSLMode,
		open:        openAndPing,
		breakers:    make(map[int64]*gobreaker.CircuitBreaker[*sql.DB]),
	}
}

func openAndPing(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (c *Connector) breakerFor(inst core.Instance) *gobreaker.CircuitBreaker[*sql.DB] {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[inst.ID]; ok {
		return cb
	}
	failures := uint32(c.breaker.Failures)
	name := inst.Name
	cb := gobreaker.NewCircuitBreaker[*sql.DB](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     c.breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			open := 0.0
			if to == gobreaker.StateOpen {
				open = 1
			}
			metrics.BreakerState.WithLabelValues(name).Set(open)
			logger.Warn().
				Str("component", "connector").
				Str("instance", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("connect breaker state changed")
		},
	})
	c.breakers[inst.ID] = cb
	return cb
}

// Open resolves the login, builds the vendor DSN and pings the instance.
// Every failure carries CONNECT_ERROR.
func (c *Connector) Open(ctx context.Context, inst core.Instance, t Timeouts) (*Connection, error) {
	const op = "connector.open"
	driver, err := DriverName(inst.Vendor)
	if err != nil {
		return nil, core.E(core.CodeConnect, op, err)
	}
	user, password, err := c.logins.ResolveLogin(ctx, inst)
	if err != nil {
		return nil, core.E(core.CodeConnect, op, err)
	}
	if t.Connect <= 0 {
		t.Connect = 30 * time.Second
	}
	if t.Query <= 0 {
		t.Query = 120 * time.Second
	}
	dsn := c.BuildDSN(inst, user, password, t)

	db, err := c.breakerFor(inst).Execute(func() (*sql.DB, error) {
		octx, cancel := context.WithTimeout(ctx, t.Connect)
		defer cancel()
		return c.open(octx, driver, dsn)
	})
	if err != nil {
		logger.Warn().
			Str("component", "connector").
			Str("instance", inst.Name).
			Str("dsn", RedactDSN(dsn)).
			Err(err).
			Msg("connect failed")
		return nil, core.E(core.CodeConnect, op, err)
	}
	return &Connection{db: db, vendor: inst.Vendor, instance: inst.Name, queryTimeout: t.Query}, nil
}

// DriverName maps a vendor tag to its database/sql driver.
func DriverName(v core.Vendor) (string, error) {
	switch v {
	case core.VendorMySQL:
		return "mysql", nil
	case core.VendorPostgreSQL:
		return "postgres", nil
	case core.VendorSQLServer:
		return "sqlserver", nil
	case core.VendorOracle:
		return "godror", nil
	}
	return "", fmt.Errorf("unsupported vendor %q", v)
}

func (c *Connector) BuildDSN(inst core.Instance, user, password string, t Timeouts) string {
	port := inst.Port
	if port == 0 {
		port = inst.Vendor.DefaultPort()
	}
	hostport := net.JoinHostPort(inst.Host, strconv.Itoa(port))
	connectSec := int(t.Connect / time.Second)
	if connectSec < 1 {
		connectSec = 1
	}

	switch inst.Vendor {
	case core.VendorMySQL:
		cfg := mysql.NewConfig()
		cfg.User = user
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = hostport
		cfg.DBName = inst.DatabaseName
		cfg.Timeout = t.Connect
		cfg.ReadTimeout = t.Query
		cfg.ParseTime = true
		return cfg.FormatDSN()

	case core.VendorPostgreSQL:
		db := inst.DatabaseName
		if db == "" {
			db = "postgres"
		}
		q := url.Values{}
		q.Set("sslmode", c.postgresSSL)
		q.Set("connect_timeout", strconv.Itoa(connectSec))
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(user, password),
			Host:     hostport,
			Path:     "/" + db,
			RawQuery: q.Encode(),
		}
		return u.String()

	case core.VendorSQLServer:
		q := url.Values{}
		if inst.DatabaseName != "" {
			q.Set("database", inst.DatabaseName)
		}
		q.Set("dial timeout", strconv.Itoa(connectSec))
		q.Set("app name", "dbinventory")
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(user, password),
			Host:     hostport,
			RawQuery: q.Encode(),
		}
		return u.String()

	case core.VendorOracle:
		connect := hostport
		if inst.DatabaseName != "" {
			connect += "/" + inst.DatabaseName
		}
		return fmt.Sprintf("user=%s password=%s connectString=%s",
			strconv.Quote(user), strconv.Quote(password), strconv.Quote(connect))
	}
	return ""
}

var (
	reLogfmtPassword = regexp.MustCompile(`password=("(?:[^"\\]|\\.)*"|\S+)`)
	reMySQLPassword  = regexp.MustCompile(`^([^:]*):.*@(tcp|unix)\(`)
)

// RedactDSN hides the password of any DSN produced by BuildDSN.
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	if reLogfmtPassword.MatchString(dsn) {
		return reLogfmtPassword.ReplaceAllString(dsn, "password=xxxxx")
	}
	return reMySQLPassword.ReplaceAllString(dsn, "${1}:xxxxx@${2}(")
}
