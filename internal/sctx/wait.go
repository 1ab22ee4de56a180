// ABOUTME: Kill-as-signal change notification on a dedicated connection
// ABOUTME: A tagged SLEEP blocks until it times out or another process kills it

package sctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-sql-driver/mysql"
)

// MySQL error numbers raised on the victim of a KILL.
const (
	errQueryInterrupted  = 1317
	errConnectionKilled  = 1927
	errLostConnectionRun = 2013
)

// IsKillSignal reports whether err is what a blocking query sees when
// another session kills it or its connection. driver.ErrBadConn is not
// one: the driver returns it before the statement is sent.
func IsKillSignal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case errQueryInterrupted, errConnectionKilled, errLostConnectionRun:
			return true
		}
	}
	return false
}

// EventQuery returns the statement a waiter for event runs. Killers find
// waiters by matching the comment tag in the process list.
func EventQuery(event string, timeoutSeconds int) string {
	return fmt.Sprintf("SELECT /* WAITING_FOR_EVENT (%s) */ SLEEP(%d)", event, timeoutSeconds)
}

func validEventName(event string) bool {
	if event == "" || strings.Contains(event, "*/") {
		return false
	}
	return !strings.ContainsFunc(event, unicode.IsControl)
}

func (s *SecurityContext) openDedicated(ctx context.Context) (*sql.DB, error) {
	connector, err := mysql.NewConnector(s.creds.mysqlConfig())
	if err != nil {
		return nil, fmt.Errorf("building connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)
	return db, nil
}

// WaitForEvent blocks for up to timeoutSeconds on a connection outside
// the context's pool and reports whether the wait was killed, which is
// how the event is signalled.
//
// ctx bounds only opening the connection. Once the SLEEP is running the
// timeout is the only way it ends on its own. Any failure other than a
// kill returns false, as does a wait that ran to completion.
func (s *SecurityContext) WaitForEvent(ctx context.Context, event string, timeoutSeconds int) bool {
	logger := s.logger.With("event", event)
	if !validEventName(event) {
		logger.Warn("refusing to wait on invalid event name")
		return false
	}

	db, err := s.openWait(ctx)
	if err != nil {
		logger.Warn("opening wait connection", "error", err)
		return false
	}
	defer db.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		logger.Warn("opening wait connection", "error", err)
		return false
	}
	defer conn.Close()

	logger.Debug("waiting for event", "timeout_seconds", timeoutSeconds)

	var slept int64
	err = conn.QueryRowContext(context.WithoutCancel(ctx), EventQuery(event, timeoutSeconds)).Scan(&slept)
	if err != nil {
		killed := IsKillSignal(err)
		logger.Debug("wait ended with error", "error", err, "killed", killed)
		return killed
	}

	// SLEEP returns 1 when KILL QUERY interrupts it.
	killed := slept == 1
	logger.Debug("wait finished", "killed", killed)
	return killed
}
