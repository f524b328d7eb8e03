package modidx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Indexer is the diffing scanner. Each Scan walks one root, compares what it
// finds against the stored index by size and modification time, and writes
// the reconciled state back in a single transaction.
type Indexer struct {
	database Database
	fsmgr    FilesystemManager
	logger   Logger
	clock    Clock

	mu    sync.Mutex
	roots map[string]*sync.Mutex
}

// NewIndexer creates an Indexer. A nil logger discards output and a nil
// clock uses the wall clock.
func NewIndexer(database Database, fsmgr FilesystemManager, logger Logger, clock Clock) *Indexer {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Indexer{
		database: database,
		fsmgr:    fsmgr,
		logger:   logger,
		clock:    clock,
		roots:    make(map[string]*sync.Mutex),
	}
}

// EnsureSchema creates the file index table and index if needed.
func (x *Indexer) EnsureSchema(ctx context.Context) error {
	return x.database.EnsureFileIndexSchema(ctx)
}

// Scan reconciles the index with the files currently under rawRoot.
//
// New paths are inserted as normal, paths whose size or mtime moved are
// marked changed, unchanged paths are reset to normal, and previously
// indexed paths under the root that were not seen are marked missing.
// Entries that are already missing are left untouched: they are not
// counted in Removed again and their last_seen_at is not refreshed, so it
// keeps the time the file was last observed on disk and a scan of an
// unchanged tree always reports zero removals.
//
// Scans of the same resolved root are serialized; scans of different roots
// may run concurrently.
func (x *Indexer) Scan(ctx context.Context, rawRoot, source string) (*ScanSummary, error) {
	if source == "" {
		source = DefaultSource
	}

	root, err := x.fsmgr.Resolve(rawRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root.String())
	}

	unlock := x.lockRoot(root.String())
	defer unlock()

	start := x.clock.Now()
	now := start.Truncate(time.Second)
	x.logger.Info("scan started", "root", root.String(), "source", source)

	existing, err := x.database.LoadIndexEntries(ctx, root.String())
	if err != nil {
		return nil, fmt.Errorf("loading index: %w", err)
	}

	w, err := x.database.BeginScan(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting scan transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := w.Rollback(); rbErr != nil {
				x.logger.Warn("rolling back scan", "root", root.String(), "error", rbErr)
			}
		}
	}()

	summary := &ScanSummary{Root: root.String()}
	seen := make(map[string]struct{}, len(existing))

	visit := func(file *Path) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[file.String()] = struct{}{}

		prev, ok := existing[file.String()]
		if !ok {
			if err := w.InsertEntry(newEntry(file, source, now)); err != nil {
				return err
			}
			summary.Added++
			x.logger.Debug("file added", "path", file.String())
			return nil
		}

		info := file.Info()
		if prev.Size != info.Size() || prev.MTime != MTimeSeconds(info.ModTime()) {
			e := newEntry(file, prev.Source, now)
			e.FirstSeenAt = prev.FirstSeenAt
			e.Status = StatusChanged
			if err := w.UpdateEntry(e); err != nil {
				return err
			}
			summary.Changed++
			x.logger.Debug("file changed", "path", file.String())
			return nil
		}

		return w.TouchEntry(file.String(), now, StatusNormal)
	}

	skip := func(skipErr *ScanIOError) {
		summary.Skipped++
		x.logger.Warn("skipping unreadable entry", "path", skipErr.Path, "error", skipErr.Err)
	}

	if err := x.fsmgr.WalkFiles(root, visit, skip); err != nil {
		return nil, fmt.Errorf("walking %s: %w", root.String(), err)
	}

	var missing []string
	for absPath, prev := range existing {
		if _, ok := seen[absPath]; ok {
			continue
		}
		if prev.Status == StatusMissing {
			continue
		}
		missing = append(missing, absPath)
	}
	sort.Strings(missing)

	if err := w.MarkMissing(missing, now); err != nil {
		return nil, fmt.Errorf("marking missing files: %w", err)
	}
	summary.Removed = len(missing)

	if err := w.Commit(); err != nil {
		return nil, fmt.Errorf("committing scan: %w", err)
	}
	committed = true

	summary.Duration = x.clock.Now().Sub(start)
	x.logger.Info("scan complete",
		"root", summary.Root,
		"added", summary.Added,
		"changed", summary.Changed,
		"removed", summary.Removed,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// Entries returns indexed files with the given status, or all of them when
// status is empty.
func (x *Indexer) Entries(ctx context.Context, status Status) ([]*IndexEntry, error) {
	entries, err := x.database.ListIndexEntries(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("listing index entries: %w", err)
	}
	return entries, nil
}

// Entry returns the indexed state of one absolute path, or nil if the path
// has never been observed.
func (x *Indexer) Entry(ctx context.Context, absPath string) (*IndexEntry, error) {
	e, err := x.database.FindIndexEntry(ctx, absPath)
	if err != nil {
		return nil, fmt.Errorf("finding index entry: %w", err)
	}
	return e, nil
}

// lockRoot acquires the advisory lock for root and returns its release func.
func (x *Indexer) lockRoot(root string) func() {
	x.mu.Lock()
	l, ok := x.roots[root]
	if !ok {
		l = &sync.Mutex{}
		x.roots[root] = l
	}
	x.mu.Unlock()

	l.Lock()
	return l.Unlock
}
