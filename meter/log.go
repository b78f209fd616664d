package meter

import (
	"go.uber.org/zap"

	"github.com/ineyio/askgate"
)

// LogMeter logs gateway events using zap.
type LogMeter struct {
	Logger *zap.Logger
}

var _ askgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, zap.NewNop() is used.
func NewLogMeter(logger *zap.Logger) *LogMeter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnResult(e askgate.ResultEvent) {
	fields := []zap.Field{
		zap.String("request_id", e.RequestID),
		zap.String("endpoint", e.Endpoint),
		zap.String("model", e.Model),
		zap.Int64("duration_ms", e.Duration.Milliseconds()),
	}
	switch {
	case e.Success:
		m.Logger.Info("endpoint_result", fields...)
	case e.Cancelled:
		m.Logger.Debug("endpoint_cancelled", fields...)
	default:
		m.Logger.Warn("endpoint_error", append(fields, zap.Error(e.Error))...)
	}
}

func (m *LogMeter) OnSend(e askgate.SendEvent) {
	m.Logger.Info("send",
		zap.String("request_id", e.RequestID),
		zap.String("namespace", e.Namespace),
		zap.String("plan", string(e.Plan)),
		zap.String("outcome", string(e.Outcome)),
		zap.String("endpoint", e.Endpoint),
		zap.Int64("duration_ms", e.Duration.Milliseconds()),
	)
}
