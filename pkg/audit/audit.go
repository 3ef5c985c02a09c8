// Package audit provides components for capturing classification audit logs:
// one record per /sort request with its outcome, duration, and batch shape.
// Backends: stdout and file.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action represents the type of action performed in an audit event.
type Action string

const (
	// ActionClassify indicates a batch classification request.
	ActionClassify Action = "CLASSIFY"
	// ActionStartup indicates service start.
	ActionStartup Action = "STARTUP"
	// ActionShutdown indicates service stop.
	ActionShutdown Action = "SHUTDOWN"
)

// Outcome represents the result of an audit action.
type Outcome string

const (
	// OutcomeSuccess indicates that the action completed successfully.
	OutcomeSuccess Outcome = "SUCCESS"
	// OutcomeDegraded indicates the request was served with fallback classifications.
	OutcomeDegraded Outcome = "DEGRADED"
	// OutcomeFailure indicates that the action failed due to an error.
	OutcomeFailure Outcome = "FAILURE"
	// OutcomeDenied indicates that the action was denied (auth, overload, validation).
	OutcomeDenied Outcome = "DENIED"
)

// Entry represents a single audit log record.
type Entry struct {
	ID           string         `json:"id"`                      // Unique identifier for the audit entry.
	Timestamp    time.Time      `json:"timestamp"`               // Time when the event occurred.
	Service      string         `json:"service"`                 // Name of the service that generated the audit event.
	Method       string         `json:"method"`                  // Endpoint invoked.
	Action       Action         `json:"action"`                  // Type of action performed.
	Outcome      Outcome        `json:"outcome"`                 // Result of the action.
	RequestID    string         `json:"request_id,omitempty"`    // Unique ID of the client request.
	BatchSize    int            `json:"batch_size,omitempty"`    // Number of items in the batch.
	DurationMs   int64          `json:"duration_ms"`             // Duration of the operation in milliseconds.
	ErrorCode    string         `json:"error_code,omitempty"`    // Application error code if not SUCCESS.
	ErrorMessage string         `json:"error_message,omitempty"` // Human-readable error message.
	Metadata     map[string]any `json:"metadata,omitempty"`      // Additional arbitrary key-value metadata.
}

// Logger is the interface that audit loggers must implement.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, entry *Entry) error

	// Close shuts down the logger and releases any resources.
	Close() error
}

// Config holds configuration parameters for the audit logger.
type Config struct {
	Enabled     bool          `koanf:"enabled"`      // If true, auditing is active.
	Backend     string        `koanf:"backend"`      // The logging backend to use ("file", "stdout").
	FilePath    string        `koanf:"file_path"`    // Path to the log file, if backend is "file".
	BufferSize  int           `koanf:"buffer_size"`  // Size of the internal buffer for asynchronous logging.
	FlushPeriod time.Duration `koanf:"flush_period"` // Period to flush buffered entries to the backend.
}

// DefaultConfig returns a Config struct with default values.
func DefaultConfig() *Config {
	return &Config{
		Enabled:     true,
		Backend:     "stdout",
		BufferSize:  1000,
		FlushPeriod: 5 * time.Second,
	}
}

// Builder provides a fluent API for constructing an Entry object.
type Builder struct {
	entry *Entry
}

// NewEntry creates and returns a new Builder initialized with a timestamp and an empty metadata map.
func NewEntry() *Builder {
	return &Builder{
		entry: &Entry{
			Timestamp: time.Now(),
			Metadata:  make(map[string]any),
		},
	}
}

// Service sets the service name for the audit entry.
func (b *Builder) Service(s string) *Builder {
	b.entry.Service = s
	return b
}

// Method sets the endpoint for the audit entry.
func (b *Builder) Method(m string) *Builder {
	b.entry.Method = m
	return b
}

// Action sets the action type for the audit entry.
func (b *Builder) Action(a Action) *Builder {
	b.entry.Action = a
	return b
}

// Outcome sets the outcome for the audit entry.
func (b *Builder) Outcome(o Outcome) *Builder {
	b.entry.Outcome = o
	return b
}

// RequestID sets the request ID for the audit entry.
func (b *Builder) RequestID(id string) *Builder {
	b.entry.RequestID = id
	return b
}

// BatchSize sets the number of items in the audited batch.
func (b *Builder) BatchSize(n int) *Builder {
	b.entry.BatchSize = n
	return b
}

// Duration sets the duration of the operation for the audit entry.
func (b *Builder) Duration(d time.Duration) *Builder {
	b.entry.DurationMs = d.Milliseconds()
	return b
}

// Error sets the error code and message if the outcome was not a success.
func (b *Builder) Error(code, message string) *Builder {
	b.entry.ErrorCode = code
	b.entry.ErrorMessage = message
	return b
}

// Meta adds a key-value pair to the metadata map of the audit entry.
func (b *Builder) Meta(key string, value any) *Builder {
	b.entry.Metadata[key] = value
	return b
}

// Build finalizes the Entry construction and returns the Entry object.
// It generates a unique ID if one is not already set.
func (b *Builder) Build() *Entry {
	if b.entry.ID == "" {
		b.entry.ID = uuid.NewString()
	}
	return b.entry
}
