package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogDispatcher writes messages to the log instead of sending them. Used when
// no RabbitMQ URL is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Send(_ context.Context, phone, text string) error {
	d.log.Info("notification", zap.String("to", maskPhone(phone)), zap.String("text", text))
	return nil
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	masked := make([]byte, len(phone))
	for i := range phone {
		if i < len(phone)-4 {
			masked[i] = '*'
		} else {
			masked[i] = phone[i]
		}
	}
	return string(masked)
}
