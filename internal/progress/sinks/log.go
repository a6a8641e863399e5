package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/vinmonopol-crawler/internal/progress"
)

// LogSink writes one structured line per event. Item events are logged at
// debug level; run milestones at info, and run errors at error.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		fields := []zap.Field{
			zap.String("run_id", uuid.UUID(evt.RunID).String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageRunStart:
			fields = append(fields, zap.Int("total", evt.Total), zap.Bool("resume", evt.Resume))
		case progress.StageItemDone:
			level = zapcore.DebugLevel
			fields = append(fields,
				zap.String("product_id", evt.ProductID),
				zap.String("state", evt.ItemState),
				zap.Int("attempts", evt.Attempts),
			)
		case progress.StageCheckpoint, progress.StageRunDone:
			fields = append(fields, zap.Int("records", evt.Records))
		case progress.StageRunError:
			level = zapcore.ErrorLevel
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
