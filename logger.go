package x402

// Logger is the minimal structured-logging surface the core depends on,
// satisfied by a thin wrapper around *zap.SugaredLogger in cmd/facilitator.
// Keeping this as an interface (rather than importing zap here) keeps the
// core package dependency-free of the logging backend.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// NopLogger discards everything. Used as the zero-value default so callers
// that don't care about facilitator diagnostics don't have to supply one.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}
