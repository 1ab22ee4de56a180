// ABOUTME: Tests for writing and reading backend log records
// ABOUTME: Covers class id validation on read

package sctx

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mirmod/internal/classid"
)

const readLogQuery = "SELECT id, created_at, message, tag, class_id, instance_id FROM v_miranda_log WHERE id = ?"

var logColumns = []string{"id", "created_at", "message", "tag", "class_id", "instance_id"}

func TestWriteLog(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	mock.ExpectExec("CALL sp_log (?, ?, ?, ?)").
		WithArgs(int32(1), int64(17), int64(3), "container started").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, sc.WriteLog(context.Background(), classid.DockerJob, 17, 3, "container started"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadLog(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	created := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(readLogQuery).WithArgs(int32(5)).
		WillReturnRows(sqlmock.NewRows(logColumns).AddRow(5, created, "container started", 3, 1, 17))

	rec, err := sc.ReadLog(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, &LogRecord{
		ID:         5,
		CreatedAt:  created,
		Message:    "container started",
		Tag:        3,
		Class:      classid.DockerJob,
		InstanceID: 17,
	}, rec)
}

func TestReadLog_NotFound(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	mock.ExpectQuery(readLogQuery).WithArgs(int32(5)).WillReturnRows(sqlmock.NewRows(logColumns))

	_, err := sc.ReadLog(context.Background(), 5)
	assert.ErrorIs(t, err, ErrLogNotFound)
}

func TestReadLog_UnknownClass(t *testing.T) {
	sc, mock := newMockContext(t, "alice")
	mock.ExpectQuery(readLogQuery).WithArgs(int32(5)).
		WillReturnRows(sqlmock.NewRows(logColumns).AddRow(5, time.Now(), "?", 0, 42, 1))

	_, err := sc.ReadLog(context.Background(), 5)
	assert.ErrorIs(t, err, classid.ErrUnknownClass)
}
