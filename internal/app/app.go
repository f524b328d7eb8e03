package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"modidx/internal/config"
	"modidx/internal/database"
	"modidx/internal/encryption"
	"modidx/internal/events"
	"modidx/internal/fs"
	"modidx/internal/metrics"
	"modidx/internal/modidx"
	"modidx/internal/settings"
	"modidx/internal/tasks"
)

// ErrNoRoot is returned when a scan names no root and none is configured.
var ErrNoRoot = errors.New("no mods root configured (run `modidx root set PATH`)")

// ModApp is the application layer between the CLI and the index.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the DB lifecycle on Close.
type ModApp struct {
	cfg       *config.Config
	db        *database.SQLiteDatabase
	fsmgr     modidx.FilesystemManager
	encryptor modidx.Encryptor
	indexer   *modidx.Indexer
	oplog     *modidx.OpLog
	tasks     *tasks.Service
	bus       *events.Bus
	logs      *events.LogService
	settings  *settings.Store
	metrics   *metrics.Metrics
	logger    modidx.Logger
	ids       modidx.IDGenerator
	logCloser io.Closer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewModApp creates a fully wired ModApp from the given config.
// The caller must call Close when done.
func NewModApp(cfg *config.Config) (*ModApp, error) {
	return newModApp(cfg, nil, modidx.UUIDGenerator{})
}

// newModApp is NewModApp with the console side of the logger and the
// run id source replaced.
func newModApp(cfg *config.Config, console io.Writer, ids modidx.IDGenerator) (*ModApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	runID := ids.New()
	logger, logCloser, err := newLogger(cfg.LogDir, cfg.Log, runID, console)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	log := &slogAdapter{l: logger}

	ctx, cancel := context.WithCancel(context.Background())
	a := &ModApp{
		cfg:       cfg,
		logger:    log,
		ids:       ids,
		logCloser: logCloser,
		ctx:       ctx,
		cancel:    cancel,
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.InstanceID)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	a.db = db

	if err := db.Initialize(ctx); err != nil {
		a.release()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		a.release()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	a.encryptor = enc

	st, err := settings.Open(filepath.Join(cfg.BaseDir, settings.FileName))
	if err != nil {
		a.release()
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	a.settings = st

	clock := modidx.RealClock{}
	a.fsmgr = fs.NewOSFilesystemManager(cfg.Scan.Ignore)
	a.indexer = modidx.NewIndexer(db, a.fsmgr, log, clock)
	a.oplog = modidx.NewOpLog(db, clock)
	a.bus = events.NewBus()
	a.logs = events.NewLogService(log, clock)
	a.metrics = metrics.New()
	a.tasks = tasks.NewService(cfg.Tasks.Workers, log)
	a.tasks.Listen(func(*tasks.Handle) { a.metrics.TaskSubmitted() })

	log.Debug("app ready", "instance", cfg.InstanceID, "database", db.Path())
	return a, nil
}

// Bus returns the event bus scan completions are published on.
func (a *ModApp) Bus() *events.Bus { return a.bus }

// Logs returns the user-facing log sink.
func (a *ModApp) Logs() *events.LogService { return a.logs }

// Tasks returns the background task service.
func (a *ModApp) Tasks() *tasks.Service { return a.tasks }

// SetRoot resolves rawPath and stores it as the configured mods root.
func (a *ModApp) SetRoot(rawPath string) (string, error) {
	p, err := a.fsmgr.Resolve(rawPath)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	if !p.IsDir() {
		return "", fmt.Errorf("%s: %w", p, modidx.ErrNotDirectory)
	}
	a.settings.Set(settings.KeyModsRoot, p.String())
	if err := a.settings.Save(); err != nil {
		return "", err
	}
	return p.String(), nil
}

// Root returns the configured mods root, or "" when none is set.
func (a *ModApp) Root() string {
	return a.settings.GetString(settings.KeyModsRoot, "")
}

// RequestScan submits a scan of rawRoot to the task service. An empty
// rawRoot scans the configured mods root and an empty source uses the
// configured default. When the scan finishes its outcome is recorded in the
// op log before the handle completes, then published on the bus.
func (a *ModApp) RequestScan(rawRoot, source string) (*tasks.Handle, error) {
	if rawRoot == "" {
		rawRoot = a.Root()
		if rawRoot == "" {
			return nil, ErrNoRoot
		}
	}
	if source == "" {
		source = a.cfg.Scan.Source
	}

	op := NewScanOperation(a.ids.New(), rawRoot, source)
	h, err := a.tasks.Submit(OpIndexScan+" "+rawRoot, func() (any, error) {
		return a.runScan(op)
	})
	if err != nil {
		return nil, fmt.Errorf("submitting scan: %w", err)
	}
	h.OnDone(func(h *tasks.Handle) { a.announce(h, op) })
	return h, nil
}

// ScanAndWait runs a scan through the task service and blocks until it and
// its notifications have finished.
func (a *ModApp) ScanAndWait(ctx context.Context, rawRoot, source string) (*modidx.ScanSummary, error) {
	h, err := a.RequestScan(rawRoot, source)
	if err != nil {
		return nil, err
	}
	announced := make(chan struct{})
	h.OnDone(func(*tasks.Handle) { close(announced) })

	result, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case <-announced:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return result.(*modidx.ScanSummary), nil
}

func (a *ModApp) runScan(op *ScanOperation) (*modidx.ScanSummary, error) {
	summary, err := a.indexer.Scan(a.ctx, op.Root, op.Source)
	op.Finish(summary, err)
	a.metrics.ObserveScan(summary, err)

	// An interrupted scan is still recorded, so the record outlives a.ctx.
	if recErr := a.oplog.Record(context.WithoutCancel(a.ctx), OpIndexScan, op.Payload(), op.Status()); recErr != nil {
		a.logger.Error("recording scan", "run_id", op.RunID, "error", recErr)
		if err == nil {
			err = recErr
		}
	}
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// announce publishes the outcome of a finished scan. A scan cancelled
// before it started is only logged.
func (a *ModApp) announce(h *tasks.Handle, op *ScanOperation) {
	if h.State() == tasks.StateCancelled {
		a.logs.Warning(fmt.Sprintf("scan of %s cancelled", op.Root))
		return
	}
	if _, err := h.Result(); err != nil {
		a.logs.Error(fmt.Sprintf("scan of %s failed: %v", op.Root, err))
	} else {
		s := op.Summary
		a.logs.Info(fmt.Sprintf("scanned %s: %d added, %d changed, %d removed, %d skipped",
			s.Root, s.Added, s.Changed, s.Removed, s.Skipped))
		a.bus.Publish(events.EventIndexUpdated, op.EventPayload())
	}

	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.logger.Warn("writing metrics textfile", "error", err)
	}
}

// Status returns indexed files, filtered by status name when it is non-empty.
func (a *ModApp) Status(ctx context.Context, status string) ([]*modidx.IndexEntry, error) {
	st, err := modidx.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return a.indexer.Entries(ctx, st)
}

// History returns the most recent operations, newest first.
func (a *ModApp) History(ctx context.Context, limit int) ([]*modidx.OperationRecord, error) {
	return a.oplog.Recent(ctx, limit)
}

// ExportIndex writes a consistent snapshot of the index database to dest,
// encrypted with the configured public key when encrypt is set. dest must
// not exist.
func (a *ModApp) ExportIndex(ctx context.Context, dest string, encrypt bool) (err error) {
	defer func() { a.recordFile(ctx, OpIndexExport, dest, err) }()

	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("export destination %s already exists", dest)
	}
	if !encrypt {
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
		return a.db.BackupTo(dest)
	}

	tmpDir, err := os.MkdirTemp("", "modidx-export-*")
	if err != nil {
		return fmt.Errorf("creating temp dir for export: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "index.db")
	if err := a.db.BackupTo(snapshot); err != nil {
		return err
	}
	if err := encryption.EncryptFile(a.encryptor, snapshot, dest); err != nil {
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	return nil
}

// RestoreIndex decrypts an encrypted snapshot src into a new database file
// at dest and checks that its schema is current. dest must not exist.
func (a *ModApp) RestoreIndex(ctx context.Context, src, dest, passphrase string) (err error) {
	defer func() { a.recordFile(ctx, OpIndexRestore, dest, err) }()

	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("restore destination %s already exists", dest)
	}

	dc, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}
	if err := encryption.DecryptFile(dc, src, dest); err != nil {
		return fmt.Errorf("decrypting snapshot: %w", err)
	}

	restored, err := database.NewSQLiteDatabase(dest)
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("opening restored database: %w", err)
	}
	err = restored.CheckMigrations(ctx)
	restored.Close()
	if err != nil {
		os.Remove(dest)
		return fmt.Errorf("restored database: %w", err)
	}
	return nil
}

// recordFile logs a file-producing operation in the op log.
func (a *ModApp) recordFile(ctx context.Context, opType, path string, opErr error) {
	payload := map[string]any{"path": path}
	status := StatusDone
	if opErr != nil {
		payload["error"] = opErr.Error()
		status = StatusFailed
	}
	if err := a.oplog.Record(ctx, opType, payload, status); err != nil {
		a.logger.Error("recording operation", "op_type", opType, "error", err)
	}
}

// SetupKeys generates the key pair used for encrypted exports.
func (a *ModApp) SetupKeys(ctx context.Context, passphrase string) error {
	if err := a.encryptor.Setup(passphrase); err != nil {
		return err
	}
	if err := a.oplog.Record(ctx, OpKeysInit, map[string]any{"public_key_path": a.cfg.Encryption.PublicKeyPath}, StatusDone); err != nil {
		a.logger.Error("recording operation", "op_type", OpKeysInit, "error", err)
	}
	return nil
}

// ParseURL extracts download metadata from a mod download link.
func (a *ModApp) ParseURL(raw string) (*modidx.DownloadMeta, error) {
	return modidx.ParseDownloadURL(raw)
}

// Close stops the task service, cancelling queued work, waits for running
// tasks to observe cancellation, and closes all resources.
func (a *ModApp) Close() error {
	if a.tasks != nil {
		a.tasks.Shutdown()
		a.cancel()
		for _, h := range a.tasks.ActiveTasks() {
			<-h.Done()
		}
	}
	return a.release()
}

func (a *ModApp) release() error {
	a.cancel()

	var firstErr error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
	return firstErr
}
