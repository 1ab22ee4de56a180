// ABOUTME: Backend activity log records attached to typed entities
// ABOUTME: Written through sp_log and read back from v_miranda_log

package sctx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mirmod/internal/classid"
)

// ErrLogNotFound is returned by ReadLog when no record has the id.
var ErrLogNotFound = errors.New("log record not found")

// LogRecord is one row of the backend activity log.
type LogRecord struct {
	ID         int32
	CreatedAt  time.Time
	Message    string
	Tag        int32
	Class      classid.Kind
	InstanceID int32
}

// WriteLog appends a record about the entity (kind, instanceID).
func (s *SecurityContext) WriteLog(ctx context.Context, kind classid.Kind, instanceID, tag int64, message string) error {
	if _, err := s.Exec(ctx, "CALL sp_log (?, ?, ?, ?)", kind.ID(), instanceID, tag, message); err != nil {
		return fmt.Errorf("writing log record: %w", err)
	}
	return nil
}

// ReadLog fetches one record. A stored class id outside classid's
// enumeration is an error, not a zero Kind.
func (s *SecurityContext) ReadLog(ctx context.Context, id int32) (*LogRecord, error) {
	var (
		rec     LogRecord
		classID int32
	)
	err := s.WithConn(ctx, func(conn *sql.Conn) error {
		return conn.QueryRowContext(ctx,
			"SELECT id, created_at, message, tag, class_id, instance_id FROM v_miranda_log WHERE id = ?", id,
		).Scan(&rec.ID, &rec.CreatedAt, &rec.Message, &rec.Tag, &classID, &rec.InstanceID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading log record %d: %w", id, err)
	}

	rec.Class, err = classid.Parse(classID)
	if err != nil {
		return nil, fmt.Errorf("reading log record %d: %w", id, err)
	}
	return &rec, nil
}
