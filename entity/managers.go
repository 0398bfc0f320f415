package entity

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/pals-labs/gopals/palserr"
	"go.uber.org/zap"
)

const defaultMessageCacheSize = 1000

// UserManager caches users for the lifetime of the client.
type UserManager struct {
	*Manager[*User]
}

// NewUserManager creates a user manager over the given REST transport.
func NewUserManager(rest Doer, logger *zap.Logger) *UserManager {
	return &UserManager{
		Manager: newManager[*User](newOrderedCache[*User](), rest, "/users",
			func() *User { return &User{} }, logger),
	}
}

// List fetches a page of users and merges them into the cache.
func (m *UserManager) List(ctx context.Context, limit, offset int) ([]*User, error) {
	return m.list(ctx, m.base, limit, offset)
}

// ThreadManager caches threads for the lifetime of the client.
type ThreadManager struct {
	*Manager[*Thread]
}

// NewThreadManager creates a thread manager over the given REST transport.
func NewThreadManager(rest Doer, logger *zap.Logger) *ThreadManager {
	return &ThreadManager{
		Manager: newManager[*Thread](newOrderedCache[*Thread](), rest, "/threads",
			func() *Thread { return &Thread{} }, logger),
	}
}

// List fetches a page of threads and merges them into the cache.
func (m *ThreadManager) List(ctx context.Context, limit, offset int) ([]*Thread, error) {
	return m.list(ctx, m.base, limit, offset)
}

// MarkRead marks a thread as read on the server and clears the cached
// unread flag.
func (m *ThreadManager) MarkRead(ctx context.Context, threadID string) error {
	if threadID == "" {
		return &palserr.ValidationError{Field: "threadID", Reason: "must not be empty"}
	}
	if err := m.rest.Post(ctx, "/threads/"+url.PathEscape(threadID)+"/read", nil, nil); err != nil {
		return err
	}
	m.mu.Lock()
	if t, ok := m.cache.Get(threadID); ok {
		t.Unread = false
	}
	m.mu.Unlock()
	return nil
}

// RecordMessage updates the cached thread's last-message reference from a
// freshly observed message. Threads not in the cache are left alone; the next
// Fetch will carry the same data.
func (m *ThreadManager) RecordMessage(msg *Message) {
	if msg == nil || msg.ThreadID == "" {
		return
	}
	m.mu.Lock()
	if t, ok := m.cache.Get(msg.ThreadID); ok {
		t.LastMessageID = msg.ID
		if msg.CreatedAt > t.UpdatedAt {
			t.UpdatedAt = msg.CreatedAt
		}
		if !msg.FromSelf {
			t.Unread = true
		}
	}
	m.mu.Unlock()
}

// MessageManager caches messages in a bounded LRU.
type MessageManager struct {
	*Manager[*Message]
}

// NewMessageManager creates a message manager with the given cache capacity;
// capacity <= 0 selects the default of 1000.
func NewMessageManager(rest Doer, capacity int, logger *zap.Logger) *MessageManager {
	return &MessageManager{
		Manager: newManager[*Message](newLRUCache[*Message](capacity), rest, "/messages",
			func() *Message { return &Message{} }, logger),
	}
}

// List fetches a page of a thread's messages and merges them into the cache.
func (m *MessageManager) List(ctx context.Context, threadID string, limit, offset int) ([]*Message, error) {
	if threadID == "" {
		return nil, &palserr.ValidationError{Field: "threadID", Reason: "must not be empty"}
	}
	return m.list(ctx, "/threads/"+url.PathEscape(threadID)+"/messages", limit, offset)
}

// Send posts a new message to a thread and caches the server's response.
func (m *MessageManager) Send(ctx context.Context, threadID, body string) (*Message, error) {
	if threadID == "" {
		return nil, &palserr.ValidationError{Field: "threadID", Reason: "must not be empty"}
	}
	if body == "" {
		return nil, &palserr.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	var raw json.RawMessage
	err := m.rest.Post(ctx, "/threads/"+url.PathEscape(threadID)+"/messages",
		map[string]string{"body": body}, &raw)
	if err != nil {
		return nil, err
	}
	return m.CreateOrUpdate(raw, true)
}

// Delete removes a message on the server and drops it from the cache.
func (m *MessageManager) Delete(ctx context.Context, id string) error {
	if id == "" {
		return &palserr.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if err := m.rest.Delete(ctx, "/messages/"+url.PathEscape(id)); err != nil {
		return err
	}
	m.Uncache(id)
	return nil
}

// SetTyping reports the typing indicator for a thread.
func (m *MessageManager) SetTyping(ctx context.Context, threadID string, typing bool) error {
	if threadID == "" {
		return &palserr.ValidationError{Field: "threadID", Reason: "must not be empty"}
	}
	return m.rest.Post(ctx, "/threads/"+url.PathEscape(threadID)+"/typing",
		map[string]bool{"typing": typing}, nil)
}
