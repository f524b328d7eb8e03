package modidx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// DefaultOperationStatus is recorded when Record is given no status.
	DefaultOperationStatus = "done"

	// DefaultRecentLimit is used by Recent when limit is not positive.
	DefaultRecentLimit = 50
)

// OperationRecord is one entry of the audit trail.
type OperationRecord struct {
	ID        int64
	OpType    string
	Payload   map[string]any
	Status    string
	CreatedAt time.Time

	// Err is a *SerializationError when the stored payload could not be
	// decoded; Payload is nil in that case.
	Err error
}

// OpLog is the append-only audit trail of high-level operations.
type OpLog struct {
	database Database
	clock    Clock
}

// NewOpLog creates an OpLog. A nil clock uses the wall clock.
func NewOpLog(database Database, clock Clock) *OpLog {
	if clock == nil {
		clock = RealClock{}
	}
	return &OpLog{database: database, clock: clock}
}

// Record appends an operation and commits it immediately.
func (l *OpLog) Record(ctx context.Context, opType string, payload map[string]any, status string) error {
	if status == "" {
		status = DefaultOperationStatus
	}
	if payload == nil {
		payload = map[string]any{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("recording %s: %w", opType, &SerializationError{Err: err})
	}

	op := &StoredOperation{
		OpType:      opType,
		PayloadJSON: string(data),
		Status:      status,
		CreatedAt:   l.clock.Now().Truncate(time.Second),
	}
	if err := l.database.InsertOperation(ctx, op); err != nil {
		return fmt.Errorf("recording %s: %w", opType, err)
	}
	return nil
}

// Recent returns up to limit records, newest first. A record whose payload
// cannot be decoded is still returned, with Err set.
func (l *OpLog) Recent(ctx context.Context, limit int) ([]*OperationRecord, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := l.database.RecentOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}

	records := make([]*OperationRecord, len(rows))
	for i, row := range rows {
		rec := &OperationRecord{
			ID:        row.ID,
			OpType:    row.OpType,
			Status:    row.Status,
			CreatedAt: row.CreatedAt,
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
			rec.Err = &SerializationError{ID: row.ID, Err: err}
		} else {
			rec.Payload = payload
		}
		records[i] = rec
	}
	return records, nil
}
