package queue

import (
	"context"

	"go.uber.org/zap"
)

// LogSender only logs messages. Useful for dry runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("message", zap.String("key", msg.Key), zap.String("body", msg.Body))
	return nil
}

func (s *LogSender) Close() error { return nil }
