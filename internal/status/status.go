package status

import (
	"time"

	"github.com/pagesage/pagesage/internal/pubsub"
)

// Level represents the severity level of a status message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

const EventStatusPublished pubsub.EventType = "status_published"

// StatusMessage represents a status update forwarded to the client UI.
type StatusMessage struct {
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Option mutates a status message before it is published.
type Option func(*StatusMessage)

// WithDuration suggests how long the client should keep the message visible.
func WithDuration(d time.Duration) Option {
	return func(msg *StatusMessage) {
		msg.Duration = d
	}
}

// Service defines the interface for the status service.
type Service interface {
	pubsub.Subscriber[StatusMessage]
	Info(message string, opts ...Option)
	Warn(message string, opts ...Option)
	Error(message string, opts ...Option)
	Debug(message string, opts ...Option)
}

type service struct {
	*pubsub.Broker[StatusMessage]
}

func (s *service) Info(message string, opts ...Option)  { s.publish(LevelInfo, message, opts...) }
func (s *service) Warn(message string, opts ...Option)  { s.publish(LevelWarn, message, opts...) }
func (s *service) Error(message string, opts ...Option) { s.publish(LevelError, message, opts...) }
func (s *service) Debug(message string, opts ...Option) { s.publish(LevelDebug, message, opts...) }

func (s *service) publish(level Level, message string, opts ...Option) {
	statusMsg := StatusMessage{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(&statusMsg)
	}
	s.Publish(EventStatusPublished, statusMsg)
}

// NewService creates a new status service.
func NewService() Service {
	return &service{
		Broker: pubsub.NewBroker[StatusMessage](),
	}
}
