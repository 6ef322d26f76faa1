package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaAsk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream = true, want false")
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v, want system+user pair", req.Messages)
		}

		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "test-model",
			Message:         ollamaMessage{Role: "assistant", Content: "the answer"},
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "test-model")
	resp, err := p.Ask(context.Background(), "be brief", "what is up")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.Text != "the answer" {
		t.Errorf("Text = %q, want %q", resp.Text, "the answer")
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v, want {12 5}", resp.Usage)
	}
}

func TestOllamaAskServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing")
	_, err := p.Ask(context.Background(), "", "q")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestOllamaAskUnreachable(t *testing.T) {
	// Port 1 is virtually never listening.
	p := NewOllamaProvider("http://127.0.0.1:1", "m")
	_, err := p.Ask(context.Background(), "", "q")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}
