// Package social is the "who matters" half of the mediation context: entity
// extraction from message text and a per-room sentiment graph over the people
// those messages mention.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Classifier answers a single system+user prompt pair with raw model output.
// Extraction and sentiment analysis are both built on this.
type Classifier interface {
	Classify(ctx context.Context, system, user string) (string, error)
}

// OpenAIChatClassifier calls an OpenAI-compatible chat completions endpoint.
// Low temperature keeps extraction output stable across runs.
type OpenAIChatClassifier struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// ChatOption configures an OpenAIChatClassifier.
type ChatOption func(*OpenAIChatClassifier)

// WithChatModel sets the chat model (default: gpt-4o-mini).
func WithChatModel(model string) ChatOption {
	return func(c *OpenAIChatClassifier) { c.model = model }
}

// WithChatBaseURL sets the API base URL (default: https://api.openai.com).
func WithChatBaseURL(url string) ChatOption {
	return func(c *OpenAIChatClassifier) { c.baseURL = url }
}

// WithMaxTokens caps the completion length (default: 200).
func WithMaxTokens(n int) ChatOption {
	return func(c *OpenAIChatClassifier) { c.maxTokens = n }
}

func NewOpenAIChatClassifier(apiKey string, opts ...ChatOption) *OpenAIChatClassifier {
	c := &OpenAIChatClassifier{
		apiKey:      apiKey,
		model:       "gpt-4o-mini",
		baseURL:     "https://api.openai.com",
		temperature: 0.1,
		maxTokens:   200,
		client:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *OpenAIChatClassifier) Classify(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("no API key")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("chat completions %d: %s", resp.StatusCode, string(body[:min(len(body), 200)]))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty completion returned")
	}
	return chatResp.Choices[0].Message.Content, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}
