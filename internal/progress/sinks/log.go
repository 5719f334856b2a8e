// Package sinks provides progress.Sink implementations: structured logs for
// development and a Prometheus exporter for long-running harvests.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/scotusdata/harvester/internal/progress"
)

// LogSink emits structured logs for the progress stream, useful during
// development or when no metrics endpoint is running.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("harvest progress",
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("key", evt.Key),
			zap.String("kind", evt.Kind),
			zap.Int64("bytes", evt.Bytes),
			zap.Int("attempt", evt.Attempt),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
