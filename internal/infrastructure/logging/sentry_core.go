package logging

import (
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap/zapcore"
)

// SentryCore forwards entries at or above its level to Sentry as events.
type SentryCore struct {
	zapcore.LevelEnabler
	hub    *sentry.Hub
	fields []zapcore.Field
}

// NewSentryCore creates a core that reports to the given hub
func NewSentryCore(hub *sentry.Hub, level zapcore.LevelEnabler) *SentryCore {
	return &SentryCore{LevelEnabler: level, hub: hub}
}

func (c *SentryCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &SentryCore{LevelEnabler: c.LevelEnabler, hub: c.hub}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *SentryCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return ce.AddCore(entry, c)
	}
	return ce
}

func (c *SentryCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	event := sentry.NewEvent()
	event.Message = entry.Message
	event.Level = sentryLevel(entry.Level)
	event.Timestamp = entry.Time
	event.Logger = entry.LoggerName
	event.Extra = enc.Fields
	if entry.Caller.Defined {
		event.Tags = map[string]string{"caller": entry.Caller.TrimmedPath()}
	}

	c.hub.CaptureEvent(event)
	return nil
}

func (c *SentryCore) Sync() error {
	return nil
}

func sentryLevel(level zapcore.Level) sentry.Level {
	switch level {
	case zapcore.DebugLevel:
		return sentry.LevelDebug
	case zapcore.InfoLevel:
		return sentry.LevelInfo
	case zapcore.WarnLevel:
		return sentry.LevelWarning
	case zapcore.ErrorLevel:
		return sentry.LevelError
	default:
		return sentry.LevelFatal
	}
}
