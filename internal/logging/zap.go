// Package logging adapts go.uber.org/zap to the core package's
// dependency-free Logger interface, so x402 itself never imports a logging
// library directly but cmd/facilitator still gets structured logging.
package logging

import "go.uber.org/zap"

// ZapLogger implements x402.Logger over a *zap.SugaredLogger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Sugar()}
}

func (l *ZapLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *ZapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l *ZapLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

func (l *ZapLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}
