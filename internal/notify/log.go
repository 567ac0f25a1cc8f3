package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/swiftride/dispatch/pkg/logger"
)

// LogNotifier writes events to the application log. Used in development and
// as a fallback when no message broker is configured.
type LogNotifier struct{}

func (LogNotifier) Publish(ctx context.Context, event Event) error {
	fields := []zap.Field{
		zap.String("type", event.Type),
		zap.String("ride_id", event.RideID.String()),
	}
	if event.DriverID != nil {
		fields = append(fields, zap.String("driver_id", event.DriverID.String()))
	}
	logger.Info("notification", fields...)
	return nil
}
