package sizer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/evdnx/gotsma/types"
)

func TestParseAnswer(t *testing.T) {
	cases := []struct {
		in   string
		want Suggestion
		ok   bool
	}{
		{"0.0012, 0.8, 2", Suggestion{0.0012, 0.8, 2}, true},
		{"0.001, 5, 25", Suggestion{0.001, 1, 10}, true},   // clamped to auto ranges
		{"0.001, 0.01, 3", Suggestion{0.001, 0.1, 3}, true}, // tp floor
		{"buy 0.002 BTC", Suggestion{0.002, 1, 1}, true},   // qty only
		{"0.002, -1, 2", Suggestion{0.002, 1, 1}, true},    // bad triple falls back
		{"no idea", Suggestion{}, false},
	}
	for _, c := range cases {
		got, ok := ParseAnswer(c.in)
		if ok != c.ok || got != c.want {
			t.Fatalf("ParseAnswer(%q) = %+v, %v; want %+v, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestExtractAnswer(t *testing.T) {
	llama := `{"completion_message":{"content":{"type":"text","text":" 0.001, 0.5, 2 "}}}`
	openai := `{"choices":[{"message":{"role":"assistant","content":"0.002, 1, 1"}}]}`
	if s, ok := ExtractAnswer([]byte(llama)); !ok || s != "0.001, 0.5, 2" {
		t.Fatalf("llama envelope: %q %v", s, ok)
	}
	if s, ok := ExtractAnswer([]byte(openai)); !ok || s != "0.002, 1, 1" {
		t.Fatalf("openai envelope: %q %v", s, ok)
	}
	if _, ok := ExtractAnswer([]byte(`{"error":"rate limited"}`)); ok {
		t.Fatalf("missing answer should not be ok")
	}
}

func TestLLMSizer_Suggest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "m" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"completion_message":{"content":{"text":"0.0015, 0.6, 1.5"}}}`))
	}))
	defer srv.Close()

	s := NewLLMSizer(srv.URL, "m", "key", time.Second)
	got, err := s.Suggest(context.Background(), 1000, 60000, "BTC/USD")
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got != (Suggestion{0.0015, 0.6, 1.5}) {
		t.Fatalf("unexpected suggestion %+v", got)
	}
}

func TestLLMSizer_Unavailable(t *testing.T) {
	s := NewLLMSizer("http://127.0.0.1:1", "m", "", time.Second)
	if _, err := s.Suggest(context.Background(), 1, 1, "BTC/USD"); !errors.Is(err, types.ErrServiceUnavailable) {
		t.Fatalf("missing key should be ErrServiceUnavailable, got %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	s = NewLLMSizer(srv.URL, "m", "key", time.Second)
	if _, err := s.Suggest(context.Background(), 1, 1, "BTC/USD"); !errors.Is(err, types.ErrServiceUnavailable) {
		t.Fatalf("HTTP 429 should be ErrServiceUnavailable, got %v", err)
	}
}
