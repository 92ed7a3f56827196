// Package logging constructs the zap loggers used across the control
// plane. A background advisory subsystem must never crash the host, so
// logger construction failures fall back to a no-op logger instead of
// propagating.
package logging

import "go.uber.org/zap"

// New returns a production logger, or a development logger when debug is
// set. On construction failure it returns a no-op logger.
func New(debug bool) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
