package security

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/tracer"
)

// AuditedEvents are the bus events recorded in the audit trail.
var AuditedEvents = []domain.EventType{
	domain.EventToolCallCompleted,
	domain.EventDispatchFailed,
	domain.EventSessionCleared,
	domain.EventSessionReaped,
	domain.EventRegistryReloaded,
}

// FileAuditLogger implements domain.AuditLogger by appending JSON lines to a
// file.
type FileAuditLogger struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	maxAge time.Duration
}

// NewFileAuditLogger opens path for appending, creating it with 0600
// permissions. maxAge bounds how long entries survive EnforceRetention;
// 0 keeps everything.
func NewFileAuditLogger(path string, maxAge time.Duration) (*FileAuditLogger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileAuditLogger{file: f, path: path, maxAge: maxAge}, nil
}

// Log writes event as a single JSON line and mirrors it onto the active span.
func (a *FileAuditLogger) Log(ctx context.Context, event domain.AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.file.Write(append(data, '\n')); err != nil {
		return domain.NewDomainError("FileAuditLogger.Log", domain.ErrAuditWrite, err.Error())
	}

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent("audit."+string(event.Type), trace.WithAttributes(
			tracer.StringAttr("audit.session_id", event.SessionID),
		))
	}
	return nil
}

// Record subscribes to the audited bus events and logs each one. It returns
// the unsubscribe function.
func (a *FileAuditLogger) Record(bus domain.EventBus, logger *slog.Logger) func() {
	var unsubs []func()
	for _, t := range AuditedEvents {
		unsubs = append(unsubs, bus.Subscribe(t, func(ctx context.Context, ev domain.Event) {
			err := a.Log(ctx, domain.AuditEvent{
				Timestamp: ev.Timestamp.UTC(),
				Type:      ev.Type,
				SessionID: ev.SessionID,
				Detail:    ev.Payload,
			})
			if err != nil {
				logger.Warn("audit write failed", "event", string(ev.Type), "error", err)
			}
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Close closes the log file.
func (a *FileAuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.file.Close()
}

// EnforceRetention rewrites the log without entries older than maxAge and
// returns how many were removed.
func (a *FileAuditLogger) EnforceRetention(_ context.Context) (removed int, err error) {
	if a.maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-a.maxAge)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.file.Close(); err != nil {
		return 0, fmt.Errorf("close for retention: %w", err)
	}
	defer func() {
		f, openErr := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if openErr != nil && err == nil {
			err = fmt.Errorf("reopen after retention: %w", openErr)
		}
		a.file = f
	}()

	in, err := os.Open(a.path)
	if err != nil {
		return 0, fmt.Errorf("open for reading: %w", err)
	}
	var kept [][]byte
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry struct {
			Timestamp time.Time `json:"timestamp"`
		}
		if json.Unmarshal(line, &entry) == nil && !entry.Timestamp.IsZero() && entry.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, append([]byte(nil), line...))
	}
	in.Close()
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan audit log: %w", err)
	}
	if removed == 0 {
		return 0, nil
	}

	tmpPath := a.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, line := range kept {
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, a.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}
	return removed, nil
}
