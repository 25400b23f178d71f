package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestChatCompletion(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q, want %q", auth, "Bearer test-key")
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	temp := 0.7
	c := NewClient("test-key", srv.URL)
	reply, err := c.ChatCompletion(context.Background(), ChatRequest{
		Model:       "gpt-4o-mini",
		Messages:    []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Temperature: &temp,
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if reply != "Hello!" {
		t.Errorf("reply = %q, want %q", reply, "Hello!")
	}
	if got.Model != "gpt-4o-mini" || len(got.Messages) != 2 {
		t.Errorf("request = %+v, want model gpt-4o-mini with 2 messages", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got.Temperature)
	}
}

func TestChatCompletion_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL)
	if _, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestEmbeddings_ReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		var req embeddingsRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 3 {
			t.Errorf("inputs = %d, want 3", len(req.Input))
		}
		fmt.Fprint(w, `{"data":[
			{"index":2,"embedding":[3,3]},
			{"index":0,"embedding":[1,1]},
			{"index":1,"embedding":[2,2]}
		]}`)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	vecs, err := c.Embeddings(context.Background(), "text-embedding-3-small", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embeddings: %v", err)
	}
	for i, v := range vecs {
		if want := float32(i + 1); v[0] != want {
			t.Errorf("vecs[%d][0] = %v, want %v", i, v[0], want)
		}
	}
}

func TestEmbeddings_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	if _, err := c.Embeddings(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for vector count mismatch")
	}
}

func TestEmbeddings_DuplicateIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]},{"index":0,"embedding":[2]}]}`)
	}))
	defer srv.Close()

	c := NewClient("", srv.URL)
	if _, err := c.Embeddings(context.Background(), "m", []string{"a", "b"}); err == nil {
		t.Fatal("expected error for duplicate index")
	}
}

func TestPost_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, WithBackoff(time.Millisecond))
	reply, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if reply != "ok" {
		t.Errorf("reply = %q, want ok", reply)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestPost_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, WithBackoff(time.Millisecond))
	_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want rate limited error", err)
	}
	if n := calls.Load(); n != maxRetries {
		t.Errorf("calls = %d, want %d", n, maxRetries)
	}
}

func TestPost_NoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, WithBackoff(time.Millisecond))
	_, err := c.ChatCompletion(context.Background(), ChatRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Fatalf("err = %v, want status 500 error", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestWithRateLimit_Disabled(t *testing.T) {
	c := NewClient("k", "", WithRateLimit(0))
	if c.limiter != nil {
		t.Error("limiter should be nil for rps=0")
	}
	if c.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", c.baseURL, DefaultBaseURL)
	}
	c = NewClient("k", "", WithRateLimit(2.5))
	if c.limiter == nil || c.limiter.Burst() != 3 {
		t.Errorf("limiter burst = %v, want 3", c.limiter)
	}
}
