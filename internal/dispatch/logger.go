package dispatch

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger adapts the SDK's key-value logger to zap.
type zapLogger struct {
	l *zap.SugaredLogger
}

var _ log.Logger = zapLogger{}

func (z zapLogger) Debug(msg string, keyvals ...interface{}) { z.l.Debugw(msg, keyvals...) }
func (z zapLogger) Info(msg string, keyvals ...interface{})  { z.l.Infow(msg, keyvals...) }
func (z zapLogger) Warn(msg string, keyvals ...interface{})  { z.l.Warnw(msg, keyvals...) }
func (z zapLogger) Error(msg string, keyvals ...interface{}) { z.l.Errorw(msg, keyvals...) }
