package rest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pals-labs/gopals/auth"
	"github.com/pals-labs/gopals/palserr"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, auth.Static{Token: "tok", SessionID: "sess"}, srv.Client(), zap.NewNop())
}

func TestGetDecodesJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want Bearer tok", got)
		}
		if got := r.Header.Get("X-Session-ID"); got != "sess" {
			t.Errorf("X-Session-ID = %q, want sess", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"42","name":"ana"}`))
	})

	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.Get(context.Background(), "/users/42", &out); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.ID != "42" || out.Name != "ana" {
		t.Errorf("decoded %+v", out)
	}
}

func TestUnauthorizedMapsToAuthenticationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := c.Get(context.Background(), "/users/1", nil)
	var ae *palserr.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v, want AuthenticationError", err)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := c.Get(context.Background(), "/threads", nil)
	after, ok := palserr.IsRateLimit(err)
	if !ok {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if after != 7*time.Second {
		t.Errorf("retry after = %s, want 7s", after)
	}
}

func TestOtherStatusMapsToAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such thread", http.StatusNotFound)
	})

	err := c.Get(context.Background(), "/threads/9", nil)
	var apiErr *palserr.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", apiErr.Status)
	}
	if apiErr.Body != "no such thread" {
		t.Errorf("body = %q", apiErr.Body)
	}
}

func TestMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, auth.Static{}, srv.Client(), zap.NewNop())
	err := c.Get(context.Background(), "/users/1", nil)
	if !palserr.IsAuthentication(err) {
		t.Fatalf("err = %v, want authentication failure", err)
	}
}

func TestDeleteSendsNoBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Delete(context.Background(), "/messages/5"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
}
