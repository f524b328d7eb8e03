package app

import "modidx/internal/modidx"

// Operation types recorded in the op log.
const (
	OpIndexScan    = "index.scan"
	OpIndexExport  = "index.export"
	OpIndexRestore = "index.restore"
	OpKeysInit     = "keys.init"
)

// Operation statuses recorded in the op log.
const (
	StatusDone   = "done"
	StatusFailed = "failed"
)

// ScanOperation tracks one scan run from submission to its op-log record.
// Summary and Err are filled in when the scan returns.
type ScanOperation struct {
	RunID   string
	Root    string
	Source  string
	Summary *modidx.ScanSummary
	Err     error
}

// NewScanOperation creates a scan operation for the raw root as requested.
func NewScanOperation(runID, root, source string) *ScanOperation {
	return &ScanOperation{RunID: runID, Root: root, Source: source}
}

// Finish records the scan outcome. A successful scan replaces Root with
// the resolved root.
func (op *ScanOperation) Finish(summary *modidx.ScanSummary, err error) {
	op.Summary = summary
	op.Err = err
	if err == nil && summary != nil {
		op.Root = summary.Root
	}
}

// Status returns the op-log status for the outcome.
func (op *ScanOperation) Status() string {
	if op.Err != nil {
		return StatusFailed
	}
	return StatusDone
}

// Payload returns the op-log payload.
func (op *ScanOperation) Payload() map[string]any {
	p := map[string]any{
		"run_id": op.RunID,
		"root":   op.Root,
		"source": op.Source,
	}
	if op.Summary != nil {
		p["added"] = op.Summary.Added
		p["changed"] = op.Summary.Changed
		p["removed"] = op.Summary.Removed
		p["skipped"] = op.Summary.Skipped
	}
	if op.Err != nil {
		p["error"] = op.Err.Error()
	}
	return p
}

// EventPayload returns the payload published with events.EventIndexUpdated.
func (op *ScanOperation) EventPayload() map[string]any {
	var added, changed, removed int
	if op.Summary != nil {
		added, changed, removed = op.Summary.Added, op.Summary.Changed, op.Summary.Removed
	}
	return map[string]any{
		"added":   added,
		"changed": changed,
		"removed": removed,
	}
}
