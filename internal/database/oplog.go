package database

import (
	"context"
	"fmt"

	"modidx/internal/modidx"
)

// InsertOperation appends one row to op_log. The statement runs outside any
// explicit transaction, so it is committed on return.
func (s *SQLiteDatabase) InsertOperation(ctx context.Context, op *modidx.StoredOperation) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO op_log (op_type, payload_json, status, created_at) VALUES (?, ?, ?, ?)`,
		op.OpType, op.PayloadJSON, op.Status, modidx.FormatTimestamp(op.CreatedAt),
	)
	if err != nil {
		return storeErr("inserting operation", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		op.ID = id
	}
	return nil
}

// RecentOperations returns up to limit operations, newest first.
func (s *SQLiteDatabase) RecentOperations(ctx context.Context, limit int) ([]*modidx.StoredOperation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op_type, payload_json, status, created_at
		 FROM op_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storeErr("listing operations", err)
	}
	defer rows.Close()

	var ops []*modidx.StoredOperation
	for rows.Next() {
		var (
			op        modidx.StoredOperation
			createdAt string
		)
		if err := rows.Scan(&op.ID, &op.OpType, &op.PayloadJSON, &op.Status, &createdAt); err != nil {
			return nil, storeErr("listing operations", err)
		}
		op.CreatedAt, err = modidx.ParseTimestamp(createdAt)
		if err != nil {
			return nil, storeErr("listing operations", fmt.Errorf("parsing created_at of %d: %w", op.ID, err))
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("listing operations", err)
	}
	return ops, nil
}
