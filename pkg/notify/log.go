package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/sodazone/xcmon/pkg/xcm"
)

// LogNotifier writes notifications to the structured log. Always wired; it is
// the sink of last resort when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n *xcm.Notification) error {
	fields := []zap.Field{
		zap.String("id", n.ID),
		zap.String("type", string(n.Kind)),
		zap.String("subscriptionId", n.SubscriptionID),
		zap.String("chainId", string(n.Waypoint.ChainID)),
		zap.Uint64("blockNumber", n.Waypoint.BlockNumber),
		zap.String("messageHash", n.MessageHash),
	}
	if n.MessageID != "" {
		fields = append(fields, zap.String("messageId", n.MessageID))
	}
	if n.Outcome != "" {
		fields = append(fields, zap.String("outcome", string(n.Outcome)))
	}
	if n.Counterpart != nil {
		fields = append(fields, zap.String("counterpartChainId", string(n.Counterpart.ChainID)))
	}
	if n.Error != "" {
		fields = append(fields, zap.String("error", n.Error))
	}
	l.logger.Info("XCM notification", fields...)
	return nil
}
