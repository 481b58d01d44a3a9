package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/mediaharvest/internal/progress"
)

// LogSink writes each event as a structured log line. Per-line manifest
// events are logged at debug level, everything else at info.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageManifestLine:
			level = zapcore.DebugLevel
		case progress.StageItemError, progress.StageUnitFailed, progress.StageBatchFailed:
			level = zapcore.WarnLevel
		}
		ce := s.logger.Check(level, "Progress")
		if ce == nil {
			continue
		}
		ce.Write(
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("scope", evt.Scope),
			zap.String("item", evt.Item),
			zap.String("category", evt.Category),
			zap.String("url", evt.URL),
			zap.Int("count", evt.Count),
			zap.Int("total", evt.Total),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
