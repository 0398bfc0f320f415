package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/pals-labs/gopals/palserr"
	"go.uber.org/zap"
)

// Doer is the REST surface consumed by managers. *rest.Client implements it.
type Doer interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// FetchOptions control cache interaction on Fetch.
type FetchOptions struct {
	// Force issues a REST call even when the id is cached. The response still
	// merges into the cached object.
	Force bool
	// NoStore keeps a newly constructed entity out of the cache.
	NoStore bool
}

// Manager implements the generic fetch/resolve/merge contract for one entity
// kind. Kind-specific managers embed it and add their REST operations.
type Manager[T Entity] struct {
	mu    sync.Mutex
	cache Cache[T]
	rest  Doer
	base  string
	fresh func() T
	log   *zap.Logger
}

func newManager[T Entity](cache Cache[T], rest Doer, base string, fresh func() T, logger *zap.Logger) *Manager[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager[T]{
		cache: cache,
		rest:  rest,
		base:  base,
		fresh: fresh,
		log:   logger,
	}
}

// Resolve returns the cached entity for an id, or the instance itself when it
// is the live cached value. ref may be a string id or an entity. Never errors;
// the second return reports whether anything was found.
func (m *Manager[T]) Resolve(ref any) (T, bool) {
	var zero T
	m.mu.Lock()
	defer m.mu.Unlock()
	switch v := ref.(type) {
	case string:
		return m.cache.Get(v)
	case T:
		// A typed-nil instance carries no id; EntityID would panic.
		if any(v) == any(zero) {
			return zero, false
		}
		cached, ok := m.cache.Get(v.EntityID())
		if ok && any(cached) == any(v) {
			return cached, true
		}
		return zero, false
	default:
		return zero, false
	}
}

// ResolveID is the inverse lookup: the id for a cached instance or id.
func (m *Manager[T]) ResolveID(ref any) (string, bool) {
	v, ok := m.Resolve(ref)
	if !ok {
		return "", false
	}
	return v.EntityID(), true
}

// Fetch returns the cached entity for id, or performs a REST read and caches
// the result. Concurrent Fetch calls for the same id are not coalesced; each
// may issue its own REST call and the merges converge on one object.
func (m *Manager[T]) Fetch(ctx context.Context, id string) (T, error) {
	return m.FetchWith(ctx, id, FetchOptions{})
}

// FetchWith is Fetch with explicit cache-control options.
func (m *Manager[T]) FetchWith(ctx context.Context, id string, opts FetchOptions) (T, error) {
	var zero T
	if id == "" {
		return zero, &palserr.ValidationError{Field: "id", Reason: "must not be empty"}
	}

	if !opts.Force {
		m.mu.Lock()
		v, ok := m.cache.Get(id)
		m.mu.Unlock()
		if ok {
			return v, nil
		}
	}

	var raw json.RawMessage
	if err := m.rest.Get(ctx, m.base+"/"+url.PathEscape(id), &raw); err != nil {
		return zero, err
	}
	return m.CreateOrUpdate(raw, !opts.NoStore)
}

// Update writes partial fields to the server and merges its response into the
// cache, returning the live instance. Fields absent from the response stay
// untouched on the cached object.
func (m *Manager[T]) Update(ctx context.Context, id string, fields any) (T, error) {
	var zero T
	if id == "" {
		return zero, &palserr.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	var raw json.RawMessage
	if err := m.rest.Put(ctx, m.base+"/"+url.PathEscape(id), fields, &raw); err != nil {
		return zero, err
	}
	return m.CreateOrUpdate(raw, true)
}

// CreateOrUpdate is the merge primitive shared by REST responses and gateway
// payloads. A payload whose id is already cached patches the existing object
// in place and returns the same reference; otherwise a new entity is built
// and, when store is true, inserted.
func (m *Manager[T]) CreateOrUpdate(data []byte, store bool) (T, error) {
	var zero T
	var head struct {
		ID flexID `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	id := string(head.ID)
	if id == "" {
		return zero, &palserr.ValidationError{Field: "id", Reason: "missing from payload"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.cache.Get(id); ok {
		if err := existing.applyPatch(data); err != nil {
			return zero, err
		}
		return existing, nil
	}

	v := m.fresh()
	if err := v.applyPatch(data); err != nil {
		return zero, err
	}
	if store {
		m.cache.Put(id, v)
	}
	return v, nil
}

// Uncache drops an id from the cache without any REST call.
func (m *Manager[T]) Uncache(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Delete(id)
}

// Clear empties the cache.
func (m *Manager[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Clear()
}

// Len returns the number of cached entities.
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// list fetches a page of raw entities and merges each through CreateOrUpdate.
func (m *Manager[T]) list(ctx context.Context, path string, limit, offset int) ([]T, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if offset > 0 {
		q.Set("offset", fmt.Sprint(offset))
	}
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var raw []json.RawMessage
	if err := m.rest.Get(ctx, path, &raw); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		v, err := m.CreateOrUpdate(r, true)
		if err != nil {
			m.log.Warn("skipping malformed list entry", zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
