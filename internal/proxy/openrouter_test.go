package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testMessages() []Message {
	return []Message{
		{Role: RoleSystem, Content: "You are a helpful assistant."},
		{Role: RoleUser, Content: "hi"},
	}
}

var testOpts = Options{Model: "openai/gpt-4o-mini", Temperature: 0.7, MaxTokens: 1024}

func TestComplete_Success(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer test-key")
		}
		if got := r.Header.Get("HTTP-Referer"); got != attributionReferer {
			t.Errorf("HTTP-Referer = %q, want %q", got, attributionReferer)
		}
		if got := r.Header.Get("X-Title"); got != attributionTitle {
			t.Errorf("X-Title = %q, want %q", got, attributionTitle)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL+"/", time.Second)
	reply, err := c.Complete(context.Background(), testMessages(), testOpts)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "Hello!" {
		t.Errorf("reply = %q, want %q", reply, "Hello!")
	}

	if gotBody["model"] != "openai/gpt-4o-mini" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.7 {
		t.Errorf("temperature = %v, want 0.7", gotBody["temperature"])
	}
	if gotBody["max_tokens"] != 1024.0 {
		t.Errorf("max_tokens = %v, want 1024", gotBody["max_tokens"])
	}
	if _, ok := gotBody["stream"]; ok && gotBody["stream"] != false {
		t.Errorf("stream = %v, want unset or false", gotBody["stream"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v, want 2 entries", gotBody["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" {
		t.Errorf("first role = %v, want system", first["role"])
	}
}

func TestComplete_MissingAPIKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL, time.Second)
	_, err := c.Complete(context.Background(), testMessages(), testOpts)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v, want *UpstreamError", err)
	}
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("err = %v, want ErrMissingAPIKey", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server was called %d times, want 0", hits.Load())
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	testcases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api-error-json", status: http.StatusInternalServerError, body: `{"error":{"message":"boom","type":"server_error"}}`},
		{name: "plain-text", status: http.StatusUnauthorized, body: "unauthorized"},
		{name: "rate-limited", status: http.StatusTooManyRequests, body: `{"error":{"message":"slow down"}}`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := NewClient("test-key", srv.URL, time.Second)
			_, err := c.Complete(context.Background(), testMessages(), testOpts)

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("err = %v (%T), want *UpstreamError", err, err)
			}
			if upErr.Status != tc.status {
				t.Errorf("Status = %d, want %d", upErr.Status, tc.status)
			}
			if hits.Load() != 1 {
				t.Errorf("server was called %d times, want exactly 1", hits.Load())
			}
		})
	}
}

func TestComplete_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient("test-key", url, time.Second)
	_, err := c.Complete(context.Background(), testMessages(), testOpts)

	var unErr *UnavailableError
	if !errors.As(err, &unErr) {
		t.Fatalf("err = %v (%T), want *UnavailableError", err, err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, 50*time.Millisecond)
	_, err := c.Complete(context.Background(), testMessages(), testOpts)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v (%T), want *UpstreamError", err, err)
	}
}

func TestComplete_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := NewClient("test-key", srv.URL, time.Second)
	_, err := c.Complete(ctx, testMessages(), testOpts)

	var upErr *UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("err = %v (%T), want *UpstreamError", err, err)
	}
}

func TestComplete_BadShape(t *testing.T) {
	testcases := []struct {
		name string
		body string
	}{
		{name: "no-choices", body: `{"id":"gen-1","choices":[]}`},
		{name: "not-json", body: `<html>gateway</html>`},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := NewClient("test-key", srv.URL, time.Second)
			_, err := c.Complete(context.Background(), testMessages(), testOpts)

			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("err = %v (%T), want *UpstreamError", err, err)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	up := &UpstreamError{Status: 502, Err: errors.New("bad gateway")}
	if got := up.Error(); got != "upstream error (HTTP 502): bad gateway" {
		t.Errorf("Error() = %q", got)
	}
	un := &UnavailableError{Err: errors.New("dial tcp: refused")}
	if got := un.Error(); got != "upstream unavailable: dial tcp: refused" {
		t.Errorf("Error() = %q", got)
	}
}
