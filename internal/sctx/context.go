// ABOUTME: SecurityContext owns one pooled MySQL connection bound to a principal
// ABOUTME: Resolves the session identity and extends proxy account claims

package sctx

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/2389/mirmod/internal/config"
	"github.com/2389/mirmod/internal/connpool"
)

const (
	// ProxyPrefix marks principals that belong to proxy (service) accounts.
	ProxyPrefix = "pxy."

	// DefaultApplication is reported to the proxy claim procedure when
	// MIRANDA_APPLICATION is unset.
	DefaultApplication = "mirmod-rs"

	// UnresolvedID is the identity of a context that has not been resolved.
	UnresolvedID int32 = -1
)

var (
	// ErrNoIdentity is returned by RenewID when the identity view has no row for the session.
	ErrNoIdentity = errors.New("no identity for session")

	// ErrAdminRequired is returned when an admin-only operation runs on a non-admin context.
	ErrAdminRequired = errors.New("admin context required")
)

// Credentials describe how to reach the backend and who to log in as.
type Credentials struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
}

func (c Credentials) mysqlConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.Database
	cfg.ParseTime = true
	return cfg
}

// DSN renders the credentials as a go-sql-driver/mysql data source name.
func (c Credentials) DSN() string {
	return c.mysqlConfig().FormatDSN()
}

// Option configures a SecurityContext.
type Option func(*options)

type options struct {
	db          *sql.DB
	openWait    func(ctx context.Context) (*sql.DB, error)
	now         func() time.Time
	logger      *slog.Logger
	application string
	observe     func(from, to connpool.State)
}

// WithDB uses db instead of opening a new one. The context takes
// ownership and closes db on Close.
func WithDB(db *sql.DB) Option {
	return func(o *options) { o.db = db }
}

// WithEventOpener replaces how WaitForEvent opens its dedicated connection.
func WithEventOpener(open func(ctx context.Context) (*sql.DB, error)) Option {
	return func(o *options) { o.openWait = open }
}

// WithClock sets the clock the connection pool measures idle time with.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithApplication overrides MIRANDA_APPLICATION for proxy claim extension.
func WithApplication(name string) Option {
	return func(o *options) { o.application = name }
}

// WithPoolObserver receives every acquisition state transition.
func WithPoolObserver(fn func(from, to connpool.State)) Option {
	return func(o *options) { o.observe = fn }
}

// session adapts *sql.Conn to the pool. Closing a session invalidates
// the driver connection so database/sql never hands it out again.
type session struct {
	*sql.Conn
}

func (s session) Close() error {
	_ = s.Raw(func(any) error { return driver.ErrBadConn })
	err := s.Conn.Close()
	if errors.Is(err, sql.ErrConnDone) {
		return nil
	}
	return err
}

// SecurityContext is a database session bound to one principal.
// It is safe for concurrent use; statements are serialized.
type SecurityContext struct {
	id       string
	creds    Credentials
	db       *sql.DB
	pool     *connpool.Pool[session]
	openWait func(ctx context.Context) (*sql.DB, error)
	app      string
	logger   *slog.Logger

	mu     sync.Mutex
	userID int32
	admin  bool
}

// New opens the context's single connection. A failed dial is returned
// as *connpool.ConnectionError.
func New(ctx context.Context, creds Credentials, opts ...Option) (*SecurityContext, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db := o.db
	if db == nil {
		connector, err := mysql.NewConnector(creds.mysqlConfig())
		if err != nil {
			return nil, fmt.Errorf("building connector: %w", err)
		}
		db = sql.OpenDB(connector)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	id := uuid.NewString()
	logger := o.logger.With("component", "sctx", "session", id, "principal", creds.User)

	sc := &SecurityContext{
		id:       id,
		creds:    creds,
		db:       db,
		openWait: o.openWait,
		app:      o.application,
		logger:   logger,
		userID:   UnresolvedID,
	}
	if sc.openWait == nil {
		sc.openWait = sc.openDedicated
	}

	dial := func(ctx context.Context) (session, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return session{}, err
		}
		return session{conn}, nil
	}
	pool, err := connpool.New(ctx, dial, connpool.Options{
		Now:          o.now,
		OnTransition: o.observe,
		Broken:       isBroken,
		Logger:       logger,
	})
	if err != nil {
		_ = db.Close()
		logger.Error("connecting to database", "error", err)
		return nil, err
	}
	sc.pool = pool

	logger.Debug("security context opened", "host", creds.Host, "database", creds.Database)
	return sc, nil
}

// NewFromConfig opens a context from a merged configuration.
func NewFromConfig(ctx context.Context, cfg config.Config, opts ...Option) (*SecurityContext, error) {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("parsing port %q: %w", cfg.Port, err)
	}
	return New(ctx, Credentials{
		User:     cfg.User,
		Password: cfg.Password,
		Host:     cfg.Host,
		Port:     port,
		Database: cfg.Database,
	}, opts...)
}

func isBroken(err error) bool {
	return connpool.IsBroken(err) || errors.Is(err, mysql.ErrInvalidConn)
}

// ID is a per-context identifier used to correlate log lines.
func (s *SecurityContext) ID() string {
	return s.id
}

// Principal is the database user the context logs in as.
func (s *SecurityContext) Principal() string {
	return s.creds.User
}

// IsProxy reports whether the principal is a proxy account.
func (s *SecurityContext) IsProxy() bool {
	return strings.HasPrefix(s.creds.User, ProxyPrefix)
}

// SetAdmin marks the context as administrative.
func (s *SecurityContext) SetAdmin(admin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = admin
}

func (s *SecurityContext) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// RequireAdmin returns ErrAdminRequired unless the context is administrative.
func (s *SecurityContext) RequireAdmin() error {
	if !s.IsAdmin() {
		return ErrAdminRequired
	}
	return nil
}

// UserID returns the last resolved identity, or -1.
func (s *SecurityContext) UserID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *SecurityContext) setUserID(id int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = id
}

// RenewID resolves the session's identity from the v_user view.
//
// Admin contexts resolve to -1 without touching the database. Proxy
// principals also extend their claim. Any failure resets the cached
// identity to -1, so UserID always agrees with the last result; a view
// with no row returns ErrNoIdentity.
func (s *SecurityContext) RenewID(ctx context.Context) (int32, error) {
	s.logger.Debug("renewing id")
	if s.IsAdmin() {
		s.setUserID(UnresolvedID)
		return UnresolvedID, nil
	}

	var id int32
	err := s.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT id FROM v_user").Scan(&id)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.setUserID(UnresolvedID)
		return UnresolvedID, ErrNoIdentity
	case err != nil:
		s.setUserID(UnresolvedID)
		return UnresolvedID, fmt.Errorf("reading identity view: %w", err)
	}

	s.setUserID(id)
	s.logger.Debug("identity resolved", "user_id", id)

	if s.IsProxy() {
		if err := s.ExtendProxyClaim(ctx); err != nil {
			s.setUserID(UnresolvedID)
			return UnresolvedID, err
		}
	}
	return id, nil
}

func (s *SecurityContext) application() string {
	if s.app != "" {
		return s.app
	}
	if name := os.Getenv("MIRANDA_APPLICATION"); name != "" {
		return name
	}
	return DefaultApplication
}

// ExtendProxyClaim renews the proxy account's claim for the calling application.
func (s *SecurityContext) ExtendProxyClaim(ctx context.Context) error {
	app := s.application()
	s.logger.Debug("extending proxy account claim", "application", app)

	_, err := s.Exec(ctx, "CALL sp_extend_proxy_account_claim(?)", app)
	if err != nil {
		s.logger.Warn("extending proxy account claim", "application", app, "error", err)
		return fmt.Errorf("extending proxy claim: %w", err)
	}
	return nil
}

// WithConn runs fn on the context's connection. The connection is held
// for the duration of fn; the error fn returns decides whether it is
// kept or discarded. A panic in fn discards the connection and is
// re-raised.
func (s *SecurityContext) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) (err error) {
	lease, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			lease.Release(driver.ErrBadConn)
			panic(r)
		}
		lease.Release(err)
	}()
	return fn(lease.Conn.Conn)
}

// Exec runs a statement that returns no rows.
func (s *SecurityContext) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := s.WithConn(ctx, func(conn *sql.Conn) error {
		var err error
		res, err = conn.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// Close releases the connection. A connection still leased is closed
// when its statement returns.
func (s *SecurityContext) Close() error {
	poolErr := s.pool.Close()
	dbErr := s.db.Close()
	s.logger.Debug("security context closed")
	return errors.Join(poolErr, dbErr)
}
