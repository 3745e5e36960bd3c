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

func TestGoogleStreamChat(t *testing.T) {
	var gotPath, gotKey string
	var gotBody geminiRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}`,
			`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}`,
		}
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk + "\n\n"))
		}
	}))
	defer server.Close()

	client := NewGoogleClient(config.ProviderConfig{APIKey: "g-test", BaseURL: server.URL}, config.GenerationConfig{})

	messages := []Message{
		{Role: "system", Content: "S"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "earlier answer"},
	}
	var got strings.Builder
	err := client.StreamChat(context.Background(), "gemini-2.0-flash", messages, nil, func(delta string) error {
		got.WriteString(delta)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat returned error: %v", err)
	}

	if got.String() != "Hello" {
		t.Fatalf("expected accumulated deltas %q, got %q", "Hello", got.String())
	}
	if gotPath != "/models/gemini-2.0-flash:streamGenerateContent" {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if gotKey != "g-test" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}

	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "S" {
		t.Fatalf("expected system message as systemInstruction, got %+v", gotBody.SystemInstruction)
	}
	if len(gotBody.Contents) != 2 {
		t.Fatalf("expected 2 contents, got %+v", gotBody.Contents)
	}
	if gotBody.Contents[0].Role != "user" || gotBody.Contents[1].Role != "model" {
		t.Fatalf("unexpected role mapping: %+v", gotBody.Contents)
	}
}
