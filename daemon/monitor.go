package daemon

import (
	"context"

	"github.com/pals-labs/gopals"
	"github.com/pals-labs/gopals/bus"
	"github.com/pals-labs/gopals/dispatch"
	"github.com/pals-labs/gopals/status"
	"go.uber.org/zap"
)

// Monitor subscribes to every event on the client bus and logs domain
// activity. It is the daemon's only consumer; library embedders subscribe
// themselves.
type Monitor struct {
	client *gopals.Client
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewMonitor creates a monitor for the given client.
func NewMonitor(client *gopals.Client, logger *zap.Logger) *Monitor {
	return &Monitor{client: client, logger: logger}
}

// Start subscribes to all bus events.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.client.Subscribe("", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.logEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) logEvent(evt bus.Event) {
	switch payload := evt.Payload.(type) {
	case dispatch.MessageCreated:
		m.logger.Info("message",
			zap.String("thread", payload.Message.ThreadID),
			zap.String("sender", payload.Message.SenderID),
			zap.String("id", payload.Message.ID))
	case dispatch.TypingStarted:
		name := payload.UserID
		if payload.User != nil && payload.User.Name != "" {
			name = payload.User.Name
		}
		m.logger.Info("typing", zap.String("thread", payload.ThreadID), zap.String("user", name))
	case dispatch.CounterUpdated:
		m.logger.Info("counter", zap.String("kind", payload.Kind), zap.Int("count", payload.Count))
	case dispatch.ProfileViewed:
		m.logger.Info("profile viewed", zap.String("viewer", payload.ViewerID))
	case status.StatusChange:
		m.logger.Info("connection state",
			zap.String("from", string(payload.From)),
			zap.String("to", string(payload.To)))
	default:
		if evt.Err != nil {
			m.logger.Warn("background error", zap.String("kind", evt.Kind), zap.Error(evt.Err))
		}
	}
}
