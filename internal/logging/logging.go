// Package logging constructs the process logger. The logger is built
// once and threaded explicitly through the runner and CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New builds a console logger. Debug mode enables the development
// encoder with debug-level output; otherwise info and above.
func New(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Encoding = "console"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
