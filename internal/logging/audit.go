package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RowanDark/autodecode/internal/redact"
)

type EventType string

const (
	EventDecodeRequest   EventType = "decode_request"
	EventRepairRequest   EventType = "repair_request"
	EventPrettyRequest   EventType = "pretty_request"
	EventFormatRequest   EventType = "format_request"
	EventRPCDenied       EventType = "rpc_denied"
	EventServerLifecycle EventType = "server_lifecycle"
	EventUpdateApplied   EventType = "update_applied"
)

type Decision string

const (
	DecisionInfo  Decision = "info"
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// PreviewRunes bounds the input preview attached to request events.
const PreviewRunes = 64

type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	RequestID string         `json:"request_id,omitempty"`
	EventType EventType      `json:"event_type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Decision  Decision       `json:"decision,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// NewRequestID returns a random identifier for correlating request events.
func NewRequestID() string {
	return uuid.NewString()
}

// Preview returns the redacted, shortened form of input stored in event
// metadata.
func Preview(input string) string {
	return redact.Preview(input, PreviewRunes)
}

// Option customises a logger built by NewAuditLogger.
type Option func(*options) error

type options struct {
	stdout  bool
	writers []io.Writer
	closers []io.Closer
	now     func() time.Time
}

// WithWriter adds w as an event sink.
func WithWriter(w io.Writer) Option {
	return func(o *options) error {
		if w == nil {
			return errors.New("writer cannot be nil")
		}
		o.writers = append(o.writers, w)
		return nil
	}
}

// WithFile appends events to path, creating the file and its directory.
func WithFile(path string) Option {
	return func(o *options) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return errors.New("file path cannot be empty")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("create audit log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		o.writers = append(o.writers, f)
		o.closers = append(o.closers, f)
		return nil
	}
}

// WithoutStdout drops the default stdout sink.
func WithoutStdout() Option {
	return func(o *options) error {
		o.stdout = false
		return nil
	}
}

// WithClock overrides the timestamp source for events that carry none.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		o.now = now
		return nil
	}
}

type auditCore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	closers []io.Closer
	now     func() time.Time
}

// AuditLogger writes one JSON object per event. Loggers derived with
// WithComponent share the same writers.
type AuditLogger struct {
	component   string
	core        *auditCore
	ownsClosers bool
}

func NewAuditLogger(component string, opts ...Option) (*AuditLogger, error) {
	o := &options{stdout: true, now: time.Now}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			closeAll(o.closers)
			return nil, err
		}
	}
	writers := o.writers
	if o.stdout {
		writers = append([]io.Writer{os.Stdout}, writers...)
	}
	if len(writers) == 0 {
		return nil, errors.New("no writers configured for audit logger")
	}
	enc := json.NewEncoder(io.MultiWriter(writers...))
	enc.SetEscapeHTML(false)
	return &AuditLogger{
		component:   component,
		core:        &auditCore{encoder: enc, closers: o.closers, now: o.now},
		ownsClosers: true,
	}, nil
}

func MustNewAuditLogger(component string, opts ...Option) *AuditLogger {
	logger, err := NewAuditLogger(component, opts...)
	if err != nil {
		panic(err)
	}
	return logger
}

// Discard returns a logger that drops every event.
func Discard() *AuditLogger {
	return MustNewAuditLogger("discard", WithoutStdout(), WithWriter(io.Discard))
}

func closeAll(closers []io.Closer) error {
	var firstErr error
	for _, c := range closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close releases files opened by WithFile. Derived loggers do not own them.
func (l *AuditLogger) Close() error {
	if l == nil || !l.ownsClosers || l.core == nil {
		return nil
	}
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	err := closeAll(l.core.closers)
	l.core.closers = nil
	return err
}

// Emit redacts the reason and metadata of event and writes it.
func (l *AuditLogger) Emit(event AuditEvent) error {
	if l == nil || l.core == nil {
		return errors.New("nil audit logger")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.core.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Component == "" {
		event.Component = l.component
	}
	event.Reason = redact.String(event.Reason)
	if len(event.Metadata) > 0 {
		event.Metadata = redact.Map(event.Metadata)
	}
	l.core.mu.Lock()
	defer l.core.mu.Unlock()
	return l.core.encoder.Encode(event)
}

func (l *AuditLogger) WithComponent(component string) *AuditLogger {
	if l == nil || l.core == nil {
		return nil
	}
	return &AuditLogger{component: component, core: l.core}
}
