package claude

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const testOrg = "11111111-2222-3333-4444-555555555555"

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(testOrg, "sk-test", Options{
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		RetryDelay:        time.Millisecond,
	})
}

func TestListProjects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+testOrg+"/projects" {
			http.NotFound(w, r)
			return
		}
		if ck, err := r.Cookie("sessionKey"); err != nil || ck.Value != "sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`[
			{"uuid":"p1","name":"One","updated_at":"2024-01-01T00:00:00Z","is_private":true},
			{"uuid":"p2","name":42,"description":null,"is_private":"false"},
			"garbage",
			{"name":"no id"}
		]`))
	})
	got, err := c.ListProjects(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].UUID != "p1" || got[0].Name != "One" || !got[0].IsPrivate.Set || !got[0].IsPrivate.Value {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].Name != "42" || got[1].Description != "" || !got[1].IsPrivate.Set || got[1].IsPrivate.Value {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].UUID != "" || got[3].UUID != "" || got[3].Name != "no id" {
		t.Errorf("malformed records: %+v %+v", got[2], got[3])
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthenticated},
		{http.StatusForbidden, ErrUnauthenticated},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})
			_, err := c.GetProject(t.Context(), "p1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.StatusCode != tt.status {
				t.Errorf("expected APIError with status %d, got %v", tt.status, err)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("client errors must not be retried, got %d calls", n)
			}
		})
	}
}

func TestRetryServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"uuid":"p1","prompt_template":"Be brief."}`))
	})
	p, err := c.GetProject(t.Context(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if p.PromptTemplate != "Be brief." {
		t.Errorf("got %+v", p)
	}

	calls.Store(-10)
	if _, err := c.GetProject(t.Context(), "p1"); err == nil {
		t.Fatal("expected failure after retries")
	}
}

func TestConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/" + testOrg + "/chat_conversations":
			_, _ = w.Write([]byte(`[
				{"uuid":"c1","name":"Loose","project_uuid":null},
				{"uuid":"c2","name":"In project","project_uuid":"p1"},
				{"uuid":"c3","name":"Nested","project":{"uuid":"p1"}}
			]`))
		case "/" + testOrg + "/chat_conversations/c1":
			if r.URL.Query().Get("rendering_mode") != "messages" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"uuid":"c1","name":"Loose","chat_messages":[
				{"sender":"human","text":"Hi"},
				{"sender":"assistant","text":"","content":[{"type":"text","text":"Hello"},{"type":"tool_use","name":"x"},{"type":"text","text":"again"}]}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})
	list, err := c.ListStandaloneConversations(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].UUID != "c1" {
		t.Fatalf("standalone = %+v", list)
	}
	conv, err := c.GetConversation(t.Context(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("messages = %+v", conv.Messages)
	}
	if got := conv.Messages[1].Body(); got != "Hello\n\nagain" {
		t.Errorf("Body = %q", got)
	}
	if _, err := c.ListConversations(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDecodeError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"a list"}`))
	})
	_, err := c.ListDocuments(t.Context(), "p1")
	var decErr *DecodeError
	if !errors.As(err, &decErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
