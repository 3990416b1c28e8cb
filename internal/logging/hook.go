package logging

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reserved logrus field names copied into dedicated Entry fields
const (
	FieldPhase       = "phase"
	FieldOperation   = "operation"
	FieldStack       = "stack"
	FieldRemediation = "remediation"
)

// SinkHook mirrors warning-and-above logrus entries into a Sink
type SinkHook struct {
	sink   Sink
	levels []logrus.Level
}

// NewSinkHook creates a hook for warning, error, fatal and panic levels
func NewSinkHook(sink Sink) *SinkHook {
	return &SinkHook{
		sink: sink,
		levels: []logrus.Level{
			logrus.PanicLevel,
			logrus.FatalLevel,
			logrus.ErrorLevel,
			logrus.WarnLevel,
		},
	}
}

// Levels implements logrus.Hook
func (h *SinkHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook
func (h *SinkHook) Fire(e *logrus.Entry) error {
	entry := Entry{
		Level:     entryLevel(e.Level),
		Message:   e.Message,
		Timestamp: e.Time,
		Context:   make(map[string]interface{}, len(e.Data)),
	}

	for k, v := range e.Data {
		switch k {
		case FieldPhase:
			entry.Phase = fmt.Sprint(v)
		case FieldOperation:
			entry.Operation = fmt.Sprint(v)
		case FieldStack:
			entry.Stack = fmt.Sprint(v)
		case FieldRemediation:
			if steps, ok := v.([]string); ok {
				entry.Remediation = steps
			}
		case logrus.ErrorKey:
			entry.Context[k] = fmt.Sprint(v)
		default:
			entry.Context[k] = v
		}
	}

	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}
	return h.sink.Append(ctx, entry)
}

func entryLevel(level logrus.Level) EntryLevel {
	switch level {
	case logrus.PanicLevel, logrus.FatalLevel:
		return EntryLevelCritical
	case logrus.ErrorLevel:
		return EntryLevelError
	case logrus.WarnLevel:
		return EntryLevelWarning
	case logrus.InfoLevel:
		return EntryLevelInfo
	default:
		return EntryLevelDebug
	}
}
