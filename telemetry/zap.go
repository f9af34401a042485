package telemetry

import (
	"go.uber.org/zap"

	"github.com/hyoklee/fabtsuite/xfer"
)

var (
	_ xfer.Logger           = (*ZapLogger)(nil)
	_ xfer.StructuredLogger = (*ZapLogger)(nil)
)

// ZapLogger adapts a zap.SugaredLogger to the Logger and StructuredLogger
// interfaces. zap.SugaredLogger already exposes Debugf and Debugw with
// matching signatures; ZapLogger exists so callers get a concrete type to
// put in xfer.Config and so related categories (cxn_loop, rxctl, txctl,
// memreg, protocol, completion, and so on) can be split into named
// sub-loggers the way the reference implementation's hlog_fast categories
// are split by subsystem.
type ZapLogger struct {
	*zap.SugaredLogger
}

// NewZapLogger wraps an existing *zap.SugaredLogger.
func NewZapLogger(l *zap.SugaredLogger) *ZapLogger {
	return &ZapLogger{SugaredLogger: l}
}

// NewProductionZapLogger constructs a JSON production logger, returning the
// error if the logger itself cannot be built.
func NewProductionZapLogger() (*ZapLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l.Sugar()), nil
}

// NewDevelopmentZapLogger constructs a human-readable, caller-annotated
// logger for interactive use; cmd/fget and cmd/fput always use it.
func NewDevelopmentZapLogger() (*ZapLogger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(l.Sugar()), nil
}

// Named returns a sub-logger tagged with category, mirroring the reference
// implementation's per-subsystem log categories (cxn_loop, rxctl, txctl,
// memreg, protocol, payload, completion, and so on).
func (z *ZapLogger) Named(category string) *ZapLogger {
	return &ZapLogger{SugaredLogger: z.SugaredLogger.Named(category)}
}
