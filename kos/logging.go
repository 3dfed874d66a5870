package kos

import "go.uber.org/zap"

// NewProductionLogger returns a zap.Logger configured the way an
// embedding host would want by default: JSON, info level, caller
// info on warnings and above.
func NewProductionLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewDiscardLogger returns a no-op logger, the default when an
// embedder never calls WithLogger.
func NewDiscardLogger() *zap.Logger {
	return zap.NewNop()
}
