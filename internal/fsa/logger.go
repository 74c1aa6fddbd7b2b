package fsa

import "sync"

// Logger interface for optional logging.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// noopLogger discards everything. Used until SetLogger is called.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// logSink holds a replaceable logger.
type logSink struct {
	mu     sync.RWMutex
	logger Logger
}

func (s *logSink) set(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *logSink) get() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.logger == nil {
		return noopLogger{}
	}
	return s.logger
}
