package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// WriterLogger writes events as JSON lines to an io.Writer
type WriterLogger struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

// NewWriterLogger creates a logger that encodes events to w
func NewWriterLogger(w io.Writer) *WriterLogger {
	return &WriterLogger{encoder: json.NewEncoder(w)}
}

// Log writes one event
func (l *WriterLogger) Log(_ context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the writer belongs to the caller
func (l *WriterLogger) Close() error {
	return nil
}

const currentLogName = "audit.log"

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	BasePath string // Directory for audit logs
	MaxSize  int64  // Rotate once the current file reaches this size (default: 100MB)
	MaxFiles int    // Rotated files to keep (default: 10)
}

// FileLogger appends JSON lines to BasePath/audit.log and rotates by size
type FileLogger struct {
	config FileLoggerConfig

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
	now     func() time.Time
}

// NewFileLogger creates a new file-based audit logger
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = 100 * 1024 * 1024
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = 10
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	l := &FileLogger{config: config, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) currentPath() string {
	return filepath.Join(l.config.BasePath, currentLogName)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log appends an event, rotating first if the file is full
func (l *FileLogger) Log(_ context.Context, event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("audit file logger is closed")
	}

	if info, err := l.file.Stat(); err == nil && info.Size() >= l.config.MaxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	rotated := filepath.Join(l.config.BasePath,
		fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.currentPath(), rotated); err != nil {
		return err
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

// prune keeps the newest MaxFiles rotated files. Rotated names sort by time.
func (l *FileLogger) prune() error {
	files, err := filepath.Glob(filepath.Join(l.config.BasePath, "audit-*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.config.MaxFiles {
		return nil
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-l.config.MaxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the file logger
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs reads up to count events from the current file (0 reads all)
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	file, err := os.Open(l.currentPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer file.Close()

	var events []*AuditEvent
	decoder := json.NewDecoder(file)
	for count <= 0 || len(events) < count {
		var event AuditEvent
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode audit log entry: %w", err)
		}
		events = append(events, &event)
	}
	return events, nil
}
