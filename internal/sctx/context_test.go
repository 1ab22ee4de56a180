// ABOUTME: Tests for SecurityContext identity renewal and proxy claim extension
// ABOUTME: Uses go-sqlmock in place of a MySQL server

package sctx

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mirmod/internal/config"
	"github.com/2389/mirmod/internal/connpool"
)

const identityQuery = "SELECT id FROM v_user"

func testCredentials(user string) Credentials {
	return Credentials{
		User:     user,
		Password: "hunter2",
		Host:     "db.internal",
		Port:     3306,
		Database: "miranda",
	}
}

func newMockContext(t *testing.T, user string, opts ...Option) (*SecurityContext, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)

	sc, err := New(context.Background(), testCredentials(user), append([]Option{WithDB(db)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })
	return sc, mock
}

func idRows(ids ...int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id"})
	for _, id := range ids {
		rows.AddRow(id)
	}
	return rows
}

func TestNew_Defaults(t *testing.T) {
	sc, _ := newMockContext(t, "alice")

	assert.Equal(t, UnresolvedID, sc.UserID())
	assert.Equal(t, "alice", sc.Principal())
	assert.False(t, sc.IsAdmin())
	assert.False(t, sc.IsProxy())
	assert.Len(t, sc.ID(), 36)
}

func TestNew_UniqueSessionIDs(t *testing.T) {
	a, _ := newMockContext(t, "alice")
	b, _ := newMockContext(t, "alice")
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestRenewID_Resolves(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(42))

	id, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
	assert.Equal(t, int32(42), sc.UserID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewID_AdminIssuesNoQuery(t *testing.T) {
	sc, mock := newMockContext(t, "root")
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(42))

	_, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(42), sc.UserID())

	sc.SetAdmin(true)
	id, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, UnresolvedID, id)
	assert.Equal(t, UnresolvedID, sc.UserID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewID_NoRowResetsIdentity(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(7))
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows())

	id, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(7), id)

	id, err = sc.RenewID(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.Equal(t, UnresolvedID, id)
	assert.Equal(t, UnresolvedID, sc.UserID())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewID_QueryErrorPropagates(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	boom := &mysql.MySQLError{Number: 1146, Message: "Table 'miranda.v_user' doesn't exist"}
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(5))
	mock.ExpectQuery(identityQuery).WillReturnError(boom)

	_, err := sc.RenewID(context.Background())
	require.NoError(t, err)

	_, err = sc.RenewID(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNoIdentity)
	assert.Equal(t, UnresolvedID, sc.UserID(), "a failed query resets the cached identity")
}

func TestRenewID_ProxyExtendsClaim(t *testing.T) {
	sc, mock := newMockContext(t, "pxy.build-bot", WithApplication("ci-runner"))
	require.True(t, sc.IsProxy())

	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(99))
	mock.ExpectExec("CALL sp_extend_proxy_account_claim(?)").
		WithArgs("ci-runner").
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(99), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRenewID_ProxyExtensionFailure(t *testing.T) {
	sc, mock := newMockContext(t, "pxy.build-bot", WithApplication("ci-runner"))
	boom := &mysql.MySQLError{Number: 1644, Message: "claim expired"}

	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(99))
	mock.ExpectExec("CALL sp_extend_proxy_account_claim(?)").
		WithArgs("ci-runner").
		WillReturnError(boom)

	id, err := sc.RenewID(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, UnresolvedID, id)
	assert.Equal(t, UnresolvedID, sc.UserID())
}

func TestRenewID_NonProxySkipsExtension(t *testing.T) {
	// A name containing but not starting with the prefix is not a proxy.
	sc, mock := newMockContext(t, "alice.pxy.")
	mock.ExpectQuery(identityQuery).WillReturnRows(idRows(3))

	_, err := sc.RenewID(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendProxyClaim_ApplicationName(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"from environment", "notebook-runner", "notebook-runner"},
		{"default", "", DefaultApplication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("MIRANDA_APPLICATION", tt.env)
			sc, mock := newMockContext(t, "pxy.svc")
			mock.ExpectExec("CALL sp_extend_proxy_account_claim(?)").
				WithArgs(tt.want).
				WillReturnResult(sqlmock.NewResult(0, 1))

			require.NoError(t, sc.ExtendProxyClaim(context.Background()))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	sc, _ := newMockContext(t, "alice")

	assert.ErrorIs(t, sc.RequireAdmin(), ErrAdminRequired)
	sc.SetAdmin(true)
	assert.NoError(t, sc.RequireAdmin())
	sc.SetAdmin(false)
	assert.ErrorIs(t, sc.RequireAdmin(), ErrAdminRequired)
}

func TestExec_GoesThroughPool(t *testing.T) {
	var steps []connpool.State
	sc, mock := newMockContext(t, "alice", WithPoolObserver(func(_, to connpool.State) {
		steps = append(steps, to)
	}))
	mock.ExpectExec("CALL sp_touch(?)").WithArgs(12).WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := sc.Exec(context.Background(), "CALL sp_touch(?)", 12)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []connpool.State{connpool.StateReusable, connpool.StateAcquired}, steps)
}

func TestWithConn_ReturnsCallbackError(t *testing.T) {
	sc, _ := newMockContext(t, "alice")
	boom := errors.New("callback failed")

	err := sc.WithConn(context.Background(), func(conn *sql.Conn) error {
		assert.NotNil(t, conn)
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithConn_PanicFreesSlot(t *testing.T) {
	var steps []connpool.State
	sc, _ := newMockContext(t, "alice", WithPoolObserver(func(_, to connpool.State) {
		steps = append(steps, to)
	}))

	assert.PanicsWithValue(t, "callback exploded", func() {
		_ = sc.WithConn(context.Background(), func(*sql.Conn) error {
			panic("callback exploded")
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// The panicked connection was discarded, so the next caller gets the
	// slot and starts a reconnect instead of waiting out its deadline.
	err := sc.WithConn(ctx, func(*sql.Conn) error { return nil })
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, steps, connpool.StateReconnecting)
}

func TestIsBroken(t *testing.T) {
	assert.True(t, isBroken(mysql.ErrInvalidConn))
	assert.True(t, isBroken(context.Canceled))
	assert.False(t, isBroken(sql.ErrNoRows))
	assert.False(t, isBroken(&mysql.MySQLError{Number: 1062}))
}

func TestNewFromConfig_BadPort(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.Config{
		Host: "db", Port: "not-a-port", User: "u", Password: "p", Database: "d",
	})
	assert.ErrorContains(t, err, "parsing port")
}

func TestNewFromConfig_UsesMergedCredentials(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)

	base := config.Config{Host: "db", Port: "3307", User: "base", Password: "x", Database: "miranda"}
	merged := base.Merge(config.Overrides{User: ptr("pxy.token-user"), Password: ptr("token-secret")})

	sc, err := NewFromConfig(context.Background(), merged, WithDB(db))
	require.NoError(t, err)
	defer sc.Close()

	assert.Equal(t, "pxy.token-user", sc.Principal())
	assert.True(t, sc.IsProxy())
	assert.Equal(t, 3307, sc.creds.Port)
}

func TestCredentials_DSN(t *testing.T) {
	c := testCredentials("alice")
	dsn := c.DSN()

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "alice", parsed.User)
	assert.Equal(t, "hunter2", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3306", parsed.Addr)
	assert.Equal(t, "miranda", parsed.DBName)
}

func ptr[T any](v T) *T { return &v }
