// ABOUTME: Single-slot connection pool with an idle health probe before every acquisition
// ABOUTME: Acquisition runs Idle -> Probing -> Reusable|Reconnecting -> Acquired

package connpool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleProbeAfter is how long a connection may sit idle before it is probed.
const DefaultIdleProbeAfter = 15 * time.Second

// ErrClosed is returned by Take after Close.
var ErrClosed = errors.New("connection pool closed")

// Conn is the part of a connection the pool needs.
type Conn interface {
	PingContext(ctx context.Context) error
	Close() error
}

// Dialer opens a new connection.
type Dialer[C Conn] func(ctx context.Context) (C, error)

// State is a step of the acquisition state machine.
type State int

const (
	StateIdle State = iota
	StateProbing
	StateReusable
	StateReconnecting
	StateAcquired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateReusable:
		return "reusable"
	case StateReconnecting:
		return "reconnecting"
	case StateAcquired:
		return "acquired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ConnectionError is returned when a connection could not be opened.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("opening connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Options configures a Pool. Zero values select the defaults.
type Options struct {
	// IdleProbeAfter is the idle duration after which Take probes the connection.
	IdleProbeAfter time.Duration

	// Now is the clock used to measure idle time.
	Now func() time.Time

	// OnTransition is called for every state change during Take.
	OnTransition func(from, to State)

	// Broken decides whether an error passed to Release means the
	// connection must be thrown away. Defaults to IsBroken.
	Broken func(err error) bool

	Logger *slog.Logger
}

// Pool holds at most one live connection. Take blocks while the
// connection is leased, so callers are serialized.
type Pool[C Conn] struct {
	dial   Dialer[C]
	opts   Options
	logger *slog.Logger

	slot chan struct{}

	mu       sync.Mutex
	conn     C
	hasConn  bool
	lastUsed time.Time
	closed   bool
}

// New creates a pool and eagerly opens its connection.
func New[C Conn](ctx context.Context, dial Dialer[C], opts Options) (*Pool[C], error) {
	p := NewLazy(dial, opts)

	conn, err := dial(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	p.conn = conn
	p.hasConn = true
	p.lastUsed = p.opts.Now()
	return p, nil
}

// NewLazy creates a pool that dials on the first Take.
func NewLazy[C Conn](dial Dialer[C], opts Options) *Pool[C] {
	if opts.IdleProbeAfter <= 0 {
		opts.IdleProbeAfter = DefaultIdleProbeAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Broken == nil {
		opts.Broken = IsBroken
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool[C]{
		dial:   dial,
		opts:   opts,
		logger: logger.With("component", "connpool"),
		slot:   make(chan struct{}, 1),
	}
}

// Lease is a connection handed out by Take. Release it exactly once.
type Lease[C Conn] struct {
	Conn C

	pool     *Pool[C]
	released bool
}

// Release returns the connection to the pool. An err that the pool
// considers broken discards the connection instead.
func (l *Lease[C]) Release(err error) {
	if l.released {
		return
	}
	l.released = true
	l.pool.put(l.Conn, err != nil && l.pool.opts.Broken(err))
}

// Take waits for the slot, then runs the acquisition state machine.
// A connection idle longer than IdleProbeAfter is pinged first; if the
// ping fails it is closed and replaced before Take returns.
func (p *Pool[C]) Take(ctx context.Context) (*Lease[C], error) {
	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := p.acquire(ctx)
	if err != nil {
		<-p.slot
		return nil, err
	}
	return &Lease[C]{Conn: conn, pool: p}, nil
}

// acquire runs with the slot held.
func (p *Pool[C]) acquire(ctx context.Context) (C, error) {
	var zero C

	p.mu.Lock()
	closed := p.closed
	conn, hasConn := p.conn, p.hasConn
	idle := p.opts.Now().Sub(p.lastUsed)
	p.mu.Unlock()

	if closed {
		return zero, ErrClosed
	}

	state := StateIdle
	next := func(to State) {
		if p.opts.OnTransition != nil {
			p.opts.OnTransition(state, to)
		}
		state = to
	}

	switch {
	case !hasConn:
		next(StateReconnecting)
	case idle > p.opts.IdleProbeAfter:
		next(StateProbing)
		p.logger.Debug("connection idle, probing", "idle", idle)
		if err := conn.PingContext(ctx); err != nil {
			p.logger.Info("connection probe failed, reconnecting", "error", err)
			p.discard(conn)
			next(StateReconnecting)
		} else {
			next(StateReusable)
		}
	default:
		next(StateReusable)
	}

	if state == StateReconnecting {
		fresh, err := p.dial(ctx)
		if err != nil {
			return zero, &ConnectionError{Err: err}
		}
		p.mu.Lock()
		p.conn = fresh
		p.hasConn = true
		p.mu.Unlock()
		conn = fresh
	}

	next(StateAcquired)
	return conn, nil
}

// discard drops conn from the pool and closes it.
func (p *Pool[C]) discard(conn C) {
	var zero C
	p.mu.Lock()
	p.conn = zero
	p.hasConn = false
	p.mu.Unlock()

	if err := conn.Close(); err != nil {
		p.logger.Debug("closing discarded connection", "error", err)
	}
}

func (p *Pool[C]) put(conn C, broken bool) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	switch {
	case closed:
		p.discard(conn)
	case broken:
		p.logger.Info("discarding broken connection")
		p.discard(conn)
	default:
		p.mu.Lock()
		p.lastUsed = p.opts.Now()
		p.mu.Unlock()
	}
	<-p.slot
}

// Close marks the pool closed. An idle connection is closed now; a
// leased one is closed when its lease is released.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	select {
	case p.slot <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-p.slot }()

	var zero C
	p.mu.Lock()
	conn, hasConn := p.conn, p.hasConn
	p.conn = zero
	p.hasConn = false
	p.mu.Unlock()

	if !hasConn {
		return nil
	}
	return conn.Close()
}

// IsBroken reports whether err leaves a connection unusable: a dead
// driver connection or a caller that gave up mid-statement.
func IsBroken(err error) bool {
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
