// Package llm provides streaming clients for chat model providers.
package llm

import "context"

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// DeltaHandler receives each content delta as the provider produces it.
// Returning an error aborts the stream.
type DeltaHandler func(delta string) error

// Client defines the interface for a streaming chat model client.
type Client interface {
	// StreamChat sends the message sequence to the given model and invokes
	// handler for every content delta until the provider signals end-of-stream.
	StreamChat(ctx context.Context, modelName string, messages []Message, gen *GenerationParams, handler DeltaHandler) error
}
