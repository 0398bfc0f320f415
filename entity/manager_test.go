package entity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/pals-labs/gopals/palserr"
	"go.uber.org/zap"
)

// fakeDoer serves scripted JSON responses and counts requests per path.
type fakeDoer struct {
	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
	err       error
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{
		responses: make(map[string]string),
		calls:     make(map[string]int),
	}
}

func (f *fakeDoer) record(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	return f.err
}

func (f *fakeDoer) respond(path string, out any) error {
	if err := f.record(path); err != nil {
		return err
	}
	f.mu.Lock()
	body, ok := f.responses[path]
	f.mu.Unlock()
	if !ok {
		return &palserr.APIError{Status: 404, Path: path}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(body), out)
}

func (f *fakeDoer) Get(_ context.Context, path string, out any) error {
	return f.respond(path, out)
}

func (f *fakeDoer) Post(_ context.Context, path string, _ any, out any) error {
	return f.respond(path, out)
}

func (f *fakeDoer) Put(_ context.Context, path string, _ any, out any) error {
	return f.respond(path, out)
}

func (f *fakeDoer) Delete(_ context.Context, path string) error {
	return f.record(path)
}

func (f *fakeDoer) callCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func TestFetchCachesAndSkipsREST(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/users/1"] = `{"id":"1","name":"ana"}`
	m := NewUserManager(doer, zap.NewNop())

	u1, err := m.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	u2, err := m.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if u1 != u2 {
		t.Error("second fetch returned a different object")
	}
	if got := doer.callCount("/users/1"); got != 1 {
		t.Errorf("REST calls = %d, want 1 (cache hit must not touch the API)", got)
	}
}

func TestFetchForceBypassesCache(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/users/1"] = `{"id":"1","name":"ana"}`
	m := NewUserManager(doer, zap.NewNop())

	if _, err := m.Fetch(context.Background(), "1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	doer.responses["/users/1"] = `{"id":"1","name":"anna"}`
	u, err := m.FetchWith(context.Background(), "1", FetchOptions{Force: true})
	if err != nil {
		t.Fatalf("forced fetch: %v", err)
	}
	if got := doer.callCount("/users/1"); got != 2 {
		t.Errorf("REST calls = %d, want 2 (force must always hit the API)", got)
	}
	if u.Name != "anna" {
		t.Errorf("name = %q, want anna", u.Name)
	}
}

func TestFetchEmptyID(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	_, err := m.Fetch(context.Background(), "")
	var ve *palserr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestFetchErrorLeavesCacheUntouched(t *testing.T) {
	doer := newFakeDoer()
	m := NewUserManager(doer, zap.NewNop())

	if _, err := m.Fetch(context.Background(), "9"); err == nil {
		t.Fatal("expected fetch error")
	}
	if m.Len() != 0 {
		t.Errorf("cache len = %d after failed fetch, want 0", m.Len())
	}
}

func TestCreateOrUpdatePreservesReferenceIdentity(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())

	u1, err := m.CreateOrUpdate([]byte(`{"id":"1","name":"A","age":30}`), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u2, err := m.CreateOrUpdate([]byte(`{"id":"1","name":"B"}`), true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u1 != u2 {
		t.Fatal("merge allocated a new object for a cached id")
	}
	// The previously obtained reference observes the merge.
	if u1.Name != "B" || u1.Age != 30 {
		t.Errorf("merged user = %+v, want name B age 30", u1)
	}
	if m.Len() != 1 {
		t.Errorf("cache len = %d, want 1", m.Len())
	}
}

func TestCreateOrUpdateNumericID(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())

	u1, err := m.CreateOrUpdate([]byte(`{"id":42,"name":"ana"}`), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	u2, err := m.CreateOrUpdate([]byte(`{"id":"42"}`), true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u1 != u2 {
		t.Error("numeric and string ids must resolve to the same entity")
	}
}

func TestCreateOrUpdateNoStore(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())

	if _, err := m.CreateOrUpdate([]byte(`{"id":"1"}`), false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("cache len = %d, want 0 when store=false", m.Len())
	}
}

func TestCreateOrUpdateMissingID(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	_, err := m.CreateOrUpdate([]byte(`{"name":"ana"}`), true)
	var ve *palserr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestResolve(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	u, err := m.CreateOrUpdate([]byte(`{"id":"1","name":"ana"}`), true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, ok := m.Resolve("1"); !ok || got != u {
		t.Error("Resolve by id failed")
	}
	if got, ok := m.Resolve(u); !ok || got != u {
		t.Error("Resolve by live instance failed")
	}
	if _, ok := m.Resolve("2"); ok {
		t.Error("Resolve found an uncached id")
	}
	if _, ok := m.Resolve(&User{ID: "1"}); ok {
		t.Error("Resolve matched a foreign instance with a cached id")
	}
	if _, ok := m.Resolve(7); ok {
		t.Error("Resolve accepted an unsupported ref type")
	}
}

func TestResolveNilInstance(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	if _, err := m.CreateOrUpdate([]byte(`{"id":"1"}`), true); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, ok := m.Resolve((*User)(nil)); ok {
		t.Error("Resolve matched a nil instance")
	}
	if _, ok := m.Resolve(nil); ok {
		t.Error("Resolve matched an untyped nil")
	}
}

func TestResolveID(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	u, _ := m.CreateOrUpdate([]byte(`{"id":"1"}`), true)

	if id, ok := m.ResolveID(u); !ok || id != "1" {
		t.Errorf("ResolveID = %q/%v, want 1/true", id, ok)
	}
	if _, ok := m.ResolveID(&User{ID: "9"}); ok {
		t.Error("ResolveID matched an uncached instance")
	}
}

func TestUpdateMergesResponseInPlace(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/users/1"] = `{"id":"1","name":"ana","age":30}`
	m := NewUserManager(doer, zap.NewNop())

	u, err := m.Fetch(context.Background(), "1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	doer.responses["/users/1"] = `{"id":"1","name":"anna"}`
	updated, err := m.Update(context.Background(), "1", map[string]string{"name": "anna"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != u {
		t.Fatal("update allocated a new object for a cached id")
	}
	if u.Name != "anna" || u.Age != 30 {
		t.Errorf("updated user = %+v, want name anna age 30", u)
	}
	if got := doer.callCount("/users/1"); got != 2 {
		t.Errorf("REST calls = %d, want 2 (fetch + update)", got)
	}
}

func TestUpdateValidation(t *testing.T) {
	m := NewUserManager(newFakeDoer(), zap.NewNop())
	_, err := m.Update(context.Background(), "", map[string]string{"name": "x"})
	var ve *palserr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestUpdateErrorLeavesCacheUntouched(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/threads/t1"] = `{"id":"t1","subject":"hi"}`
	m := NewThreadManager(doer, zap.NewNop())
	th, _ := m.Fetch(context.Background(), "t1")

	doer.err = &palserr.APIError{Status: 500, Path: "/threads/t1"}
	if _, err := m.Update(context.Background(), "t1", map[string]string{"subject": "yo"}); err == nil {
		t.Fatal("expected update error")
	}
	if th.Subject != "hi" {
		t.Errorf("subject = %q, want unchanged", th.Subject)
	}
}

func TestThreadMarkRead(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/threads/t1"] = `{"id":"t1","subject":"hi","unread":true}`
	m := NewThreadManager(doer, zap.NewNop())

	th, err := m.Fetch(context.Background(), "t1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	doer.responses["/threads/t1/read"] = `{}`
	if err := m.MarkRead(context.Background(), "t1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if th.Unread {
		t.Error("cached thread still unread after MarkRead")
	}
}

func TestThreadRecordMessage(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/threads/t1"] = `{"id":"t1","updated_at":100}`
	m := NewThreadManager(doer, zap.NewNop())
	th, _ := m.Fetch(context.Background(), "t1")

	m.RecordMessage(&Message{ID: "m9", ThreadID: "t1", CreatedAt: 200})
	if th.LastMessageID != "m9" || th.UpdatedAt != 200 || !th.Unread {
		t.Errorf("thread = %+v, want last m9 / updated 200 / unread", th)
	}

	// Unknown threads are ignored, not created.
	m.RecordMessage(&Message{ID: "m1", ThreadID: "t2"})
	if _, ok := m.Resolve("t2"); ok {
		t.Error("RecordMessage created a thread stub")
	}
}

func TestMessageSendAndDelete(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/threads/t1/messages"] = `{"id":"m1","thread_id":"t1","body":"hey","from_me":true}`
	m := NewMessageManager(doer, 0, zap.NewNop())

	msg, err := m.Send(context.Background(), "t1", "hey")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "m1" || !msg.FromSelf {
		t.Errorf("sent message = %+v", msg)
	}
	if _, ok := m.Resolve("m1"); !ok {
		t.Error("sent message not cached")
	}

	if err := m.Delete(context.Background(), "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := m.Resolve("m1"); ok {
		t.Error("deleted message still cached")
	}
}

func TestMessageListMergesIntoCache(t *testing.T) {
	doer := newFakeDoer()
	doer.responses["/threads/t1/messages?limit=2"] = `[{"id":"m1","thread_id":"t1"},{"id":"m2","thread_id":"t1"}]`
	m := NewMessageManager(doer, 0, zap.NewNop())

	msgs, err := m.List(context.Background(), "t1", 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	cached, ok := m.Resolve("m1")
	if !ok || cached != msgs[0] {
		t.Error("list result not identical to cached object")
	}
}

func TestSendValidation(t *testing.T) {
	m := NewMessageManager(newFakeDoer(), 0, zap.NewNop())
	if _, err := m.Send(context.Background(), "", "hey"); err == nil {
		t.Error("expected error for empty thread id")
	}
	if _, err := m.Send(context.Background(), "t1", ""); err == nil {
		t.Error("expected error for empty body")
	}
}
