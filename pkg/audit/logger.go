// Package audit writes the append-only, per-scenario action log: one JSON
// line per executed action.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Entry is one audit line.
type Entry struct {
	ID         string                       `json:"id"`
	ScenarioID string                       `json:"scenario_id"`
	TraceID    string                       `json:"trace_id"`
	Agent      string                       `json:"agent"`
	Action     string                       `json:"action"`
	Inputs     map[string]any               `json:"inputs"`
	TokenID    string                       `json:"token_id"`
	Delegation *contracts.DelegationContext `json:"delegation,omitempty"`
	Result     map[string]any               `json:"result"`
	RecordHash string                       `json:"record_hash,omitempty"`
	Ingested   bool                         `json:"ingested"`
	Timestamp  time.Time                    `json:"timestamp"`
}

// Logger records audit entries. Implementations only ever append.
type Logger interface {
	Record(ctx context.Context, e Entry) error
}

// logger writes JSON lines to a Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLoggerWithWriter creates a Logger writing to w. Used for injection in
// tests and custom sinks.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(_ context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.writer.Write(append(line, '\n'))
	return err
}

// FileLogger appends to a single scenario log file.
type FileLogger struct {
	Logger
	f    *os.File
	path string
}

// Path returns the log file location.
func (l *FileLogger) Path() string { return l.path }

// Close closes the underlying file.
func (l *FileLogger) Close() error { return l.f.Close() }

// Dir hands out one append-only log per scenario beneath root.
type Dir struct {
	root string
}

// NewDir creates root if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &Dir{root: root}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName maps a scenario id to its log file name.
func FileName(scenarioID string) string {
	name := unsafeName.ReplaceAllString(scenarioID, "_")
	if name == "" || name == "." || name == ".." {
		name = "scenario"
	}
	return name + ".jsonl"
}

// Open returns the log for scenarioID, creating it if needed. Existing
// content is never truncated.
func (d *Dir) Open(scenarioID string) (*FileLogger, error) {
	path := filepath.Join(d.root, FileName(scenarioID))
	// #nosec G304 -- file name is sanitized above.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileLogger{Logger: NewLoggerWithWriter(f), f: f, path: path}, nil
}
