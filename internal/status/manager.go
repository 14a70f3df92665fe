package status

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pagesage/pagesage/internal/pubsub"
)

// Manager handles status message management.
type Manager struct {
	service Service
	mu      sync.RWMutex
}

// Global instance of the status manager
var globalManager *Manager

// InitManager initializes the global status manager with the provided service.
func InitManager(service Service) {
	globalManager = &Manager{
		service: service,
	}
	slog.Debug("Status manager initialized")
}

// GetService returns the status service from the global manager.
func GetService() Service {
	if globalManager == nil {
		slog.Warn("Status manager not initialized, initializing with default service")
		InitManager(NewService())
	}

	globalManager.mu.RLock()
	defer globalManager.mu.RUnlock()

	return globalManager.service
}

// Info publishes an info level status message using the global manager.
func Info(message string, opts ...Option) {
	GetService().Info(message, opts...)
}

// Warn publishes a warning level status message using the global manager.
func Warn(message string, opts ...Option) {
	GetService().Warn(message, opts...)
}

// Error publishes an error level status message using the global manager.
func Error(message string, opts ...Option) {
	GetService().Error(message, opts...)
}

// Debug publishes a debug level status message using the global manager.
func Debug(message string, opts ...Option) {
	GetService().Debug(message, opts...)
}

// Subscribe delivers status messages from the global manager's service.
func Subscribe(ctx context.Context) <-chan pubsub.Event[StatusMessage] {
	return GetService().Subscribe(ctx)
}
