package transport

import (
	"context"

	"go.uber.org/zap"
)

// Messenger delivers out-of-band notices to a channel, such as typing
// indicators while a slow turn runs. Delivery is best effort everywhere;
// callers never fail a turn on a messenger error.
type Messenger interface {
	// Indicate signals that a reply is being prepared
	Indicate(ctx context.Context, channelID string) error
	// Send pushes a message to the channel outside the request cycle
	Send(ctx context.Context, channelID, content string) error
}

// LogMessenger is the default messenger for deployments where replies travel
// back on the request itself. Pushes are recorded in the log instead.
type LogMessenger struct {
	logger *zap.Logger
}

var _ Messenger = (*LogMessenger)(nil)

// NewLogMessenger creates a messenger that logs instead of delivering
func NewLogMessenger(logger *zap.Logger) *LogMessenger {
	return &LogMessenger{logger: logger}
}

// Indicate logs the typing signal at debug level
func (m *LogMessenger) Indicate(_ context.Context, channelID string) error {
	m.logger.Debug("indicate", zap.String("channel_id", channelID))
	return nil
}

// Send logs the outgoing push
func (m *LogMessenger) Send(_ context.Context, channelID, content string) error {
	m.logger.Info("channel push",
		zap.String("channel_id", channelID),
		zap.Int("content_length", len(content)))
	return nil
}
