// Package corgolog wraps zap for corgo's two output streams: column-aligned
// progress tokens on stdout (Updating, Downloading, Compiling, Packaging,
// Verifying) and structured diagnostic fields on stderr.
//
// This plays the role golang-dep's log.Logger (log/logger.go) plays — a
// small wrapper threaded through the invocation — but backs it with a real
// structured logger instead of a bare io.Writer, the way szaher-agentspec
// reaches for zap wherever it needs leveled, structured logging.
package corgolog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger pairs a structured zap.Logger for diagnostics with a plain stdout
// writer for progress lines.
type Logger struct {
	z       *zap.Logger
	verbPad int
}

// the widest of the five progress verbs, so Line() can right-align them.
const verbWidth = len("Downloading")

// New builds a Logger. When verbose is true, debug-level structured fields
// are also emitted to stderr; otherwise only info-and-above.
func New(verbose bool) *Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return &Logger{z: zap.New(core), verbPad: verbWidth}
}

// Line prints a column-aligned progress line to stdout:
// "<verb> <name> v<version> (<source-or-dir>)".
func (l *Logger) Line(verb, name, version, origin string) {
	fmt.Printf("%*s %s v%s (%s)\n", l.verbPad, verb, name, version, origin)
}

// Debug, Info, Warn, Error proxy to the structured logger for diagnostics
// that aren't user-facing progress.
func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }

// Sync flushes buffered log entries; callers should defer it from main.
func (l *Logger) Sync() error { return l.z.Sync() }
