package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lex-assist-go/internal/config"
)

type googleClient struct {
	cfg    config.ProviderConfig
	gen    config.GenerationConfig
	client *http.Client
}

// NewGoogleClient creates a client for the Gemini streamGenerateContent API.
func NewGoogleClient(cfg config.ProviderConfig, gen config.GenerationConfig) Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg.BaseURL = base
	return &googleClient{
		cfg:    cfg,
		gen:    gen,
		client: &http.Client{},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// StreamChat calls the Gemini API and forwards SSE deltas to handler.
// System messages become the systemInstruction; assistant maps to role "model".
func (c *googleClient) StreamChat(ctx context.Context, modelName string, messages []Message, gen *GenerationParams, handler DeltaHandler) error {
	reqBody := geminiRequest{}
	for _, m := range messages {
		switch m.Role {
		case "system":
			reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	genCfg := &geminiGenerationConfig{}
	if gen != nil {
		genCfg.Temperature = gen.Temperature
		genCfg.TopP = gen.TopP
		genCfg.MaxOutputTokens = gen.MaxTokens
	} else {
		if c.gen.Temperature != 0 {
			t := c.gen.Temperature
			genCfg.Temperature = &t
		}
		if c.gen.TopP != 0 {
			p := c.gen.TopP
			genCfg.TopP = &p
		}
		if c.gen.MaxTokens != 0 {
			m := c.gen.MaxTokens
			genCfg.MaxOutputTokens = &m
		}
	}
	if genCfg.Temperature != nil || genCfg.TopP != nil || genCfg.MaxOutputTokens != nil {
		reqBody.GenerationConfig = genCfg
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.cfg.BaseURL, modelName)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create gemini request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call gemini api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gemini api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if strings.HasPrefix(line, "data: ") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "" {
				continue
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}

			for _, cand := range chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					if err := handler(part.Text); err != nil {
						return fmt.Errorf("failed to forward content delta: %w", err)
					}
				}
			}
		}
	}
	return nil
}
