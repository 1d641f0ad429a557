package loggingx

import (
	"fmt"

	"github.com/dogmatiq/dodeca/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Zap is a logging.Logger that writes to a zap logger.
type Zap struct {
	Target *zap.Logger
}

var _ logging.Logger = Zap{}

// Log writes an application log message formatted according to a format
// specifier.
func (l Zap) Log(f string, v ...any) {
	l.Target.Info(fmt.Sprintf(f, v...))
}

// LogString writes a pre-formatted application log message.
func (l Zap) LogString(s string) {
	l.Target.Info(s)
}

// Debug writes a debug log message formatted according to a format
// specifier.
func (l Zap) Debug(f string, v ...any) {
	if l.IsDebug() {
		l.Target.Debug(fmt.Sprintf(f, v...))
	}
}

// DebugString writes a pre-formatted debug log message.
func (l Zap) DebugString(s string) {
	l.Target.Debug(s)
}

// IsDebug returns true if debug messages are written.
func (l Zap) IsDebug() bool {
	return l.Target.Core().Enabled(zapcore.DebugLevel)
}
