package events

import (
	"sync"
	"time"

	"modidx/internal/modidx"
	"modidx/internal/notify"
)

// Level is the severity of a LogService entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// DefaultLogCapacity bounds the entries a LogService keeps in memory.
const DefaultLogCapacity = 1000

// LogEntry is one user-facing log line.
type LogEntry struct {
	Time    time.Time
	Level   Level
	Message string
}

// LogListener receives every entry as it is logged.
type LogListener func(LogEntry)

// LogService is the user-facing log sink. Each line is kept in a bounded
// buffer, handed to listeners and mirrored to the structured logger.
type LogService struct {
	logger    modidx.Logger
	clock     modidx.Clock
	listeners notify.Registry[LogListener]

	mu       sync.Mutex
	entries  []LogEntry
	capacity int
}

// NewLogService creates a LogService. A nil logger discards the mirrored
// output and a nil clock uses the wall clock.
func NewLogService(logger modidx.Logger, clock modidx.Clock) *LogService {
	if logger == nil {
		logger = modidx.NewNopLogger()
	}
	if clock == nil {
		clock = modidx.RealClock{}
	}
	return &LogService{logger: logger, clock: clock, capacity: DefaultLogCapacity}
}

func (s *LogService) Info(message string)    { s.Log(LevelInfo, message) }
func (s *LogService) Warning(message string) { s.Log(LevelWarning, message) }
func (s *LogService) Error(message string)   { s.Log(LevelError, message) }

// Log records message at level.
func (s *LogService) Log(level Level, message string) {
	entry := LogEntry{Time: s.clock.Now(), Level: level, Message: message}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.capacity; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	s.mu.Unlock()

	switch level {
	case LevelWarning:
		s.logger.Warn(message)
	case LevelError:
		s.logger.Error(message)
	default:
		s.logger.Info(message)
	}

	for _, l := range s.listeners.Snapshot() {
		l(entry)
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (s *LogService) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Listen registers l and returns a func that removes it.
func (s *LogService) Listen(l LogListener) func() {
	return s.listeners.Add(l)
}
