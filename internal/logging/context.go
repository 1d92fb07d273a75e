package logging

import (
	"context"

	"github.com/sirupsen/logrus"

	"smmswarm/internal/ids"
)

// FromContext returns logger tagged with the request, session and user ids
// found on ctx. Loggers that are not logrus-backed get the ids as a prefix.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = OrNop(logger)
	v := ids.FromContext(ctx)
	fields := logrus.Fields{}
	if v.RequestID != "" {
		fields["request_id"] = v.RequestID
	}
	if v.SessionID != "" {
		fields["session_id"] = v.SessionID
	}
	if v.UserID != "" {
		fields["user_id"] = v.UserID
	}
	if len(fields) == 0 {
		return logger
	}
	if el, ok := logger.(*entryLogger); ok {
		return el.with(fields)
	}
	prefix := ""
	if v.RequestID != "" {
		prefix = "[req:" + v.RequestID + "] "
	}
	if prefix == "" {
		return logger
	}
	return &prefixLogger{logger: logger, prefix: prefix}
}

type prefixLogger struct {
	logger Logger
	prefix string
}

func (l *prefixLogger) Debug(format string, args ...any) { l.logger.Debug(l.prefix+format, args...) }
func (l *prefixLogger) Info(format string, args ...any)  { l.logger.Info(l.prefix+format, args...) }
func (l *prefixLogger) Warn(format string, args ...any)  { l.logger.Warn(l.prefix+format, args...) }
func (l *prefixLogger) Error(format string, args ...any) { l.logger.Error(l.prefix+format, args...) }
