package webcore

import "go.uber.org/zap"

// Logger is the only logging surface the core talks to. Concrete sinks
// (file, syslog, stdout) are the embedder's concern, not the core's.
type Logger interface {
	Logf(format string, args ...any)
	Errorf(format string, args ...any)
	Close() error
}

// NopLogger discards everything. It is the Server's default Logger.
type NopLogger struct{}

func (NopLogger) Logf(format string, args ...any)   {}
func (NopLogger) Errorf(format string, args ...any) {}
func (NopLogger) Close() error                      { return nil }

// zapLogger adapts a *zap.Logger the embedder already owns into a
// Logger. It does not configure any zap core/sink itself.
type zapLogger struct {
	z *zap.SugaredLogger
}

// NewZapLogger wraps an existing *zap.Logger for use as the Server's
// Logger. The caller keeps ownership of z and its underlying sinks.
func NewZapLogger(z *zap.Logger) Logger {
	return &zapLogger{z: z.Sugar()}
}

func (l *zapLogger) Logf(format string, args ...any)   { l.z.Debugf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.z.Errorf(format, args...) }
func (l *zapLogger) Close() error                      { return l.z.Sync() }
