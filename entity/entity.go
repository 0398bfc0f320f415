// Package entity holds the domain entities (users, threads, messages) and the
// identity-preserving caches and managers layered over the REST transport.
//
// Every entity has at most one live object per id within a client instance.
// Payloads referencing a cached id merge into the existing object in place, so
// consumers holding a pointer observe later updates. This live-view behavior
// is intentional; managers never hand out copies.
package entity

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Entity is implemented by all cached domain objects.
type Entity interface {
	// EntityID returns the normalized string id.
	EntityID() string
	// Kind returns the entity kind tag ("user", "thread", "message").
	Kind() string

	// applyPatch merges a partial JSON payload into the entity in place.
	// Fields absent from the payload are left untouched.
	applyPatch(data []byte) error
}

// flexID accepts string or numeric ids on the wire and normalizes them to a
// string, so "42" and 42 reference the same entity.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty id")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// User is a Pals account.
type User struct {
	ID          string
	Name        string
	Username    string
	Country     string
	Age         int
	LastLoginAt int64 // unix millis
	AvatarURL   string
	Self        bool
}

func (u *User) EntityID() string { return u.ID }
func (u *User) Kind() string     { return "user" }

func (u *User) applyPatch(data []byte) error {
	var p struct {
		ID          *flexID `json:"id"`
		Name        *string `json:"name"`
		Username    *string `json:"username"`
		Country     *string `json:"country"`
		Age         *int    `json:"age"`
		LastLoginAt *int64  `json:"last_login"`
		AvatarURL   *string `json:"avatar_url"`
		Self        *bool   `json:"self"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode user payload: %w", err)
	}
	if p.ID != nil {
		u.ID = string(*p.ID)
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Country != nil {
		u.Country = *p.Country
	}
	if p.Age != nil {
		u.Age = *p.Age
	}
	if p.LastLoginAt != nil {
		u.LastLoginAt = *p.LastLoginAt
	}
	if p.AvatarURL != nil {
		u.AvatarURL = *p.AvatarURL
	}
	if p.Self != nil {
		u.Self = *p.Self
	}
	return nil
}

// Thread is a conversation between the current account and other users.
type Thread struct {
	ID             string
	Subject        string
	LastMessageID  string
	ParticipantIDs []string
	UpdatedAt      int64 // unix millis
	Unread         bool
}

func (t *Thread) EntityID() string { return t.ID }
func (t *Thread) Kind() string     { return "thread" }

func (t *Thread) applyPatch(data []byte) error {
	var p struct {
		ID            *flexID  `json:"id"`
		Subject       *string  `json:"subject"`
		LastMessageID *flexID  `json:"last_message_id"`
		Participants  []flexID `json:"participants"`
		UpdatedAt     *int64   `json:"updated_at"`
		Unread        *bool    `json:"unread"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode thread payload: %w", err)
	}
	if p.ID != nil {
		t.ID = string(*p.ID)
	}
	if p.Subject != nil {
		t.Subject = *p.Subject
	}
	if p.LastMessageID != nil {
		t.LastMessageID = string(*p.LastMessageID)
	}
	if p.Participants != nil {
		ids := make([]string, len(p.Participants))
		for i, id := range p.Participants {
			ids[i] = string(id)
		}
		t.ParticipantIDs = ids
	}
	if p.UpdatedAt != nil {
		t.UpdatedAt = *p.UpdatedAt
	}
	if p.Unread != nil {
		t.Unread = *p.Unread
	}
	return nil
}

// Message is a single message inside a thread.
type Message struct {
	ID             string
	ThreadID       string
	SenderID       string
	Body           string
	AttachmentType string
	FromSelf       bool
	CreatedAt      int64 // unix millis
}

func (m *Message) EntityID() string { return m.ID }
func (m *Message) Kind() string     { return "message" }

func (m *Message) applyPatch(data []byte) error {
	var p struct {
		ID             *flexID `json:"id"`
		ThreadID       *flexID `json:"thread_id"`
		SenderID       *flexID `json:"sender_id"`
		Body           *string `json:"body"`
		AttachmentType *string `json:"attachment_type"`
		FromSelf       *bool   `json:"from_me"`
		CreatedAt      *int64  `json:"created_at"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode message payload: %w", err)
	}
	if p.ID != nil {
		m.ID = string(*p.ID)
	}
	if p.ThreadID != nil {
		m.ThreadID = string(*p.ThreadID)
	}
	if p.SenderID != nil {
		m.SenderID = string(*p.SenderID)
	}
	if p.Body != nil {
		m.Body = *p.Body
	}
	if p.AttachmentType != nil {
		m.AttachmentType = *p.AttachmentType
	}
	if p.FromSelf != nil {
		m.FromSelf = *p.FromSelf
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	return nil
}
