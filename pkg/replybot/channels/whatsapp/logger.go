package whatsapp

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogger bridges whatsmeow's printf-style logger into slog.
type waLogger struct {
	logger *slog.Logger
}

var _ waLog.Logger = (*waLogger)(nil)

func newWALogger(logger *slog.Logger, module string) waLog.Logger {
	return &waLogger{logger: logger.With("module", module)}
}

func (l *waLogger) log(level slog.Level, msg string, args []interface{}) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...))
}

func (l *waLogger) Errorf(msg string, args ...interface{}) { l.log(slog.LevelError, msg, args) }
func (l *waLogger) Warnf(msg string, args ...interface{})  { l.log(slog.LevelWarn, msg, args) }
func (l *waLogger) Infof(msg string, args ...interface{})  { l.log(slog.LevelInfo, msg, args) }
func (l *waLogger) Debugf(msg string, args ...interface{}) { l.log(slog.LevelDebug, msg, args) }

// Sub nests the module name the way whatsmeow's own loggers do ("Client/Socket").
func (l *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{logger: l.logger.With("sub", module)}
}
