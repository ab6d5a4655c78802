package storage

import (
	"context"
	"errors"
	"time"
)

func (s *SQLite) AddTask(ctx context.Context, typ string, payload []byte, executeAt int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	if typ == "" {
		return 0, errors.New("task type is required")
	}
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_queue(type, payload, execute_at, status, created_at, updated_at) VALUES(?,?,?,?,?,?)`,
		typ, string(payload), executeAt, string(TaskPending), now, now,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// PendingTasks returns pending tasks due at or before now, oldest first.
func (s *SQLite) PendingTasks(ctx context.Context, now int64) ([]QueuedTask, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, payload, execute_at, status FROM task_queue
		 WHERE status = ? AND execute_at <= ? ORDER BY execute_at ASC, id ASC`,
		string(TaskPending), now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QueuedTask
	for rows.Next() {
		var (
			t       QueuedTask
			payload string
			status  string
		)
		if err := rows.Scan(&t.ID, &t.Type, &payload, &t.ExecuteAt, &status); err != nil {
			return nil, err
		}
		t.Payload = []byte(payload)
		t.Status = TaskStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) SetTaskStatus(ctx context.Context, id int64, status TaskStatus) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE task_queue SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().Unix(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
