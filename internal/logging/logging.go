package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/google/uuid"
	"github.com/pagesage/pagesage/internal/pubsub"
)

type Log struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Level      string            `json:"level"`
	Message    string            `json:"message"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

const (
	EventLogCreated pubsub.EventType = "log_created"

	// maxRetained bounds the in-memory log buffer. The transcript and its
	// logs live only for the life of the engine process.
	maxRetained = 1000
)

type Service interface {
	pubsub.Subscriber[Log]

	Create(ctx context.Context, timestamp time.Time, level, message string, attributes map[string]string) error
	List(ctx context.Context, limit int) ([]Log, error)
}

type service struct {
	mu     sync.RWMutex
	logs   []Log
	broker *pubsub.Broker[Log]
}

var globalLoggingService *service

func InitService() error {
	if globalLoggingService != nil {
		return fmt.Errorf("logging service already initialized")
	}
	globalLoggingService = &service{
		broker: pubsub.NewBroker[Log](),
	}
	return nil
}

func GetService() Service {
	if globalLoggingService == nil {
		panic("logging service not initialized. Call logging.InitService() first.")
	}
	return globalLoggingService
}

func (s *service) Create(ctx context.Context, timestamp time.Time, level, message string, attributes map[string]string) error {
	if level == "" {
		level = "info"
	}
	if attributes == nil {
		attributes = make(map[string]string)
	}

	log := Log{
		ID:         uuid.New().String(),
		Timestamp:  timestamp,
		Level:      level,
		Message:    message,
		Attributes: attributes,
	}

	s.mu.Lock()
	s.logs = append(s.logs, log)
	if len(s.logs) > maxRetained {
		s.logs = s.logs[len(s.logs)-maxRetained:]
	}
	s.mu.Unlock()

	s.broker.Publish(EventLogCreated, log)
	return nil
}

func (s *service) List(ctx context.Context, limit int) ([]Log, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.logs) {
		limit = len(s.logs)
	}
	out := make([]Log, limit)
	copy(out, s.logs[len(s.logs)-limit:])
	return out, nil
}

func (s *service) Subscribe(ctx context.Context) <-chan pubsub.Event[Log] {
	return s.broker.Subscribe(ctx)
}

func Create(ctx context.Context, timestamp time.Time, level, message string, attributes map[string]string) error {
	return GetService().Create(ctx, timestamp, level, message, attributes)
}

func List(ctx context.Context, limit int) ([]Log, error) {
	return GetService().List(ctx, limit)
}

func Subscribe(ctx context.Context) <-chan pubsub.Event[Log] {
	return GetService().Subscribe(ctx)
}

type slogWriter struct{}

func (sw *slogWriter) Write(p []byte) (n int, err error) {
	// Example: time=2024-05-09T12:34:56.789-05:00 level=INFO msg="stream started" kind=ask
	d := logfmt.NewDecoder(bytes.NewReader(p))
	for d.ScanRecord() {
		var timestamp time.Time
		var level string
		var message string
		attributes := make(map[string]string)
		hasTimestamp := false

		for d.ScanKeyval() {
			key := string(d.Key())
			value := string(d.Value())

			switch key {
			case "time":
				parsedTime, timeErr := time.Parse(time.RFC3339Nano, value)
				if timeErr != nil {
					parsedTime, timeErr = time.Parse(time.RFC3339, value)
					if timeErr != nil {
						timestamp = time.Now().UTC()
						hasTimestamp = true
						continue
					}
				}
				timestamp = parsedTime
				hasTimestamp = true
			case "level":
				level = strings.ToLower(value)
			case "msg", "message":
				message = value
			default:
				attributes[key] = value
			}
		}
		if d.Err() != nil {
			return len(p), fmt.Errorf("logfmt.ScanRecord: %w", d.Err())
		}

		if !hasTimestamp {
			timestamp = time.Now()
		}

		// Persist via the service off the slog hot path.
		go func(timestamp time.Time, level, message string, attributes map[string]string) {
			if globalLoggingService == nil {
				return
			}
			if err := Create(context.Background(), timestamp, level, message, attributes); err != nil {
				fmt.Fprintf(os.Stderr, "ERROR [logging.slogWriter]: failed to record log: %v\n", err)
			}
		}(timestamp, level, message, attributes)
	}
	if d.Err() != nil {
		return len(p), fmt.Errorf("logfmt.ScanRecord final: %w", d.Err())
	}
	return len(p), nil
}

func NewSlogWriter() io.Writer {
	return &slogWriter{}
}

// RecoverPanic is a common function to handle panics gracefully.
// It logs the error, creates a panic log file with stack trace,
// and executes an optional cleanup function.
func RecoverPanic(name string, cleanup func()) {
	if r := recover(); r != nil {
		errorMsg := fmt.Sprintf("Panic in %s: %v", name, r)
		slog.Error(errorMsg)

		timestamp := time.Now().Format("20060102-150405")
		filename := fmt.Sprintf("pagesage-panic-%s-%s.log", name, timestamp)

		file, err := os.Create(filename)
		if err != nil {
			slog.Error(fmt.Sprintf("Failed to create panic log file '%s': %v", filename, err))
		} else {
			defer file.Close()
			fmt.Fprintf(file, "Panic in %s: %v\n\n", name, r)
			fmt.Fprintf(file, "Time: %s\n\n", time.Now().Format(time.RFC3339))
			fmt.Fprintf(file, "Stack Trace:\n%s\n", string(debug.Stack()))
			slog.Info(fmt.Sprintf("Panic details written to %s", filename))
		}

		if cleanup != nil {
			cleanup()
		}
	}
}
