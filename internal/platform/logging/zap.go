// Package logging implements the domain Logger port on top of zap.
package logging

import (
	"go.uber.org/zap"

	"github.com/1ns0mn1a7/modern-tbank-woo-payments/internal/domain"
)

// Logger adapts a zap SugaredLogger to the domain Logger port. Logging is
// fire-and-forget: failures to sync or write never reach the caller.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ domain.Logger = (*Logger)(nil)

// New creates a production logger. When debug is true the development
// config is used and debug-level messages are emitted.
func New(debug bool) (*Logger, error) {
	var base *zap.Logger
	var err error
	if debug {
		base, err = zap.NewDevelopment()
	} else {
		base, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: base.Sugar().Named("tbank")}, nil
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Debug(msg string) { l.sugar.Debug(msg) }
func (l *Logger) Info(msg string)  { l.sugar.Info(msg) }
func (l *Logger) Warn(msg string)  { l.sugar.Warn(msg) }
func (l *Logger) Error(msg string) { l.sugar.Error(msg) }

// Sync flushes buffered log entries. Called on shutdown.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
