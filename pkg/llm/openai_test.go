package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lex-assist-go/internal/config"
)

func TestOpenAIStreamChat(t *testing.T) {
	var gotAuth string
	var gotBody chatRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
			`data: {"choices":[{"delta":{"content":"lo"}}]}`,
			`data: {"choices":[{"delta":{"content":""}}]}`,
			"data: [DONE]",
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	client := NewOpenAIClient(
		config.ProviderConfig{APIKey: "sk-test", BaseURL: server.URL},
		config.GenerationConfig{Temperature: 0.5, MaxTokens: 128},
	)

	var got strings.Builder
	messages := []Message{{Role: "system", Content: "S"}, {Role: "user", Content: "hi"}}
	err := client.StreamChat(context.Background(), "gpt-4o-mini", messages, nil, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat returned error: %v", err)
	}

	if got.String() != "Hello" {
		t.Fatalf("expected accumulated deltas %q, got %q", "Hello", got.String())
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}
	if !gotBody.Stream || gotBody.Model != "gpt-4o-mini" || len(gotBody.Messages) != 2 {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
	if gotBody.Temperature == nil || *gotBody.Temperature != 0.5 {
		t.Fatalf("expected configured temperature forwarded, got %v", gotBody.Temperature)
	}
}

func TestOpenAIStreamChatNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{APIKey: "sk-test", BaseURL: server.URL}, config.GenerationConfig{})

	err := client.StreamChat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil, func(string) error {
		t.Fatalf("handler must not be called on error response")
		return nil
	})
	if err == nil {
		t.Fatalf("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestOpenAIStreamChatHandlerAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"content":"y"}}]}` + "\n\n"))
	}))
	defer server.Close()

	client := NewOpenAIClient(config.ProviderConfig{BaseURL: server.URL}, config.GenerationConfig{})

	calls := 0
	err := client.StreamChat(context.Background(), "gpt-4o-mini", []Message{{Role: "user", Content: "hi"}}, nil, func(string) error {
		calls++
		return context.Canceled
	})
	if err == nil {
		t.Fatalf("expected handler error to abort the stream")
	}
	if calls != 1 {
		t.Fatalf("expected stream to stop after first handler error, got %d calls", calls)
	}
}
