// Package dispatch turns raw gateway frames into domain events. It subscribes
// to "gateway.dispatch" on the bus, merges entity payloads through the
// resource managers, and re-publishes enriched domain signals.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pals-labs/gopals/bus"
	"github.com/pals-labs/gopals/entity"
	"github.com/pals-labs/gopals/gateway"
	"go.uber.org/zap"
)

// MessageCreated is carried on "message.created" bus events.
type MessageCreated struct {
	Message *entity.Message
	Thread  *entity.Thread
}

// TypingStarted is carried on "typing.started" bus events. User is nil when
// the sender could not be resolved.
type TypingStarted struct {
	ThreadID string
	UserID   string
	User     *entity.User
}

// CounterUpdated is carried on "notification.updated" bus events.
type CounterUpdated struct {
	Kind  string
	Count int
}

// ProfileViewed is carried on "profile.viewed" bus events. Viewer is nil when
// the viewer could not be resolved.
type ProfileViewed struct {
	ViewerID string
	Viewer   *entity.User
	ViewedAt int64
}

// Dispatcher consumes gateway dispatch signals and produces domain events.
// One failed event never stops the loop; errors surface as "dispatch.error"
// signals, or log lines when nobody listens.
type Dispatcher struct {
	users    *entity.UserManager
	threads  *entity.ThreadManager
	messages *entity.MessageManager
	bus      *bus.Bus
	log      *zap.Logger
	cancel   context.CancelFunc
}

// New creates a dispatcher bound to the given managers.
func New(users *entity.UserManager, threads *entity.ThreadManager, messages *entity.MessageManager, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		users:    users,
		threads:  threads,
		messages: messages,
		bus:      b,
		log:      logger,
	}
}

// Start subscribes to gateway dispatch signals on the bus.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	ch, unsub := d.bus.Subscribe("gateway.dispatch", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the dispatcher.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, evt bus.Event) {
	payload, ok := evt.Payload.(gateway.DispatchPayload)
	if !ok {
		return
	}
	if err := d.dispatch(ctx, payload); err != nil {
		d.emitError(fmt.Errorf("dispatch %s: %w", payload.Type, err))
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, payload gateway.DispatchPayload) error {
	switch payload.Type {
	case "THREAD_NEW_MESSAGE":
		return d.threadNewMessage(payload.Data)
	case "THREAD_TYPING":
		return d.threadTyping(ctx, payload.Data)
	case "COUNTER_UPDATE":
		return d.counterUpdate(payload.Data)
	case "PROFILE_VIEW":
		return d.profileView(ctx, payload.Data)
	default:
		// Unknown event types still reach consumers, unenriched.
		d.publish(bus.Event{
			Kind:    "event." + strings.ToLower(payload.Type),
			Payload: payload.Data,
		})
		return nil
	}
}

func (d *Dispatcher) threadNewMessage(data json.RawMessage) error {
	msg, err := d.messages.CreateOrUpdate(data, true)
	if err != nil {
		return fmt.Errorf("merge message: %w", err)
	}
	d.threads.RecordMessage(msg)
	thread, _ := d.threads.Resolve(msg.ThreadID)

	d.publish(bus.Event{Kind: "message.created", Payload: MessageCreated{
		Message: msg,
		Thread:  thread,
	}})
	return nil
}

func (d *Dispatcher) threadTyping(ctx context.Context, data json.RawMessage) error {
	var w struct {
		ThreadID string `json:"thread_id"`
		UserID   string `json:"user_id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode typing event: %w", err)
	}
	if w.ThreadID == "" || w.UserID == "" {
		return fmt.Errorf("typing event missing thread_id or user_id")
	}

	user, err := d.users.Fetch(ctx, w.UserID)
	if err != nil {
		// Enrichment is best effort; the event still goes out with the id.
		d.log.Warn("typing user not resolvable",
			zap.String("user_id", w.UserID), zap.Error(err))
		user = nil
	}

	d.publish(bus.Event{Kind: "typing.started", Payload: TypingStarted{
		ThreadID: w.ThreadID,
		UserID:   w.UserID,
		User:     user,
	}})
	return nil
}

func (d *Dispatcher) counterUpdate(data json.RawMessage) error {
	var w struct {
		Kind  string `json:"kind"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode counter event: %w", err)
	}
	if w.Kind == "" {
		w.Kind = "notifications"
	}

	d.publish(bus.Event{Kind: "notification.updated", Payload: CounterUpdated{
		Kind:  w.Kind,
		Count: w.Count,
	}})
	return nil
}

func (d *Dispatcher) profileView(ctx context.Context, data json.RawMessage) error {
	var w struct {
		ViewerID string `json:"viewer_id"`
		ViewedAt int64  `json:"viewed_at"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode profile view event: %w", err)
	}
	if w.ViewerID == "" {
		return fmt.Errorf("profile view event missing viewer_id")
	}

	viewer, err := d.users.Fetch(ctx, w.ViewerID)
	if err != nil {
		d.log.Warn("profile viewer not resolvable",
			zap.String("viewer_id", w.ViewerID), zap.Error(err))
		viewer = nil
	}

	d.publish(bus.Event{Kind: "profile.viewed", Payload: ProfileViewed{
		ViewerID: w.ViewerID,
		Viewer:   viewer,
		ViewedAt: w.ViewedAt,
	}})
	return nil
}

func (d *Dispatcher) publish(evt bus.Event) {
	evt.Timestamp = time.Now()
	d.bus.Publish(evt)
}

// emitError surfaces a failed event as a bus signal, or logs it when nobody
// subscribed; one bad event never stops the loop.
func (d *Dispatcher) emitError(err error) {
	if d.bus.Publish(bus.Event{Kind: "dispatch.error", Timestamp: time.Now(), Err: err}) == 0 {
		d.log.Error("event dispatch failed with no subscribers", zap.Error(err))
	}
}
