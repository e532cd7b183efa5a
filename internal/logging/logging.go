// Package logging wires up the zap logger used across the core, following
// the teacher's call shape (zap.Error, zap.String) but writing to a file
// sink since stdout is owned by the tview alt-screen.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger that writes JSON lines to path. Falls back to a
// no-op core if the file can't be opened, since a logging failure must
// never take down the client.
func New(path string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop(), err
	}
	return logger, nil
}
