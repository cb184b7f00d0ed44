// Package rewrite polishes final transcripts through a chat-completion
// endpoint. The contract is "always return usable text": every failure mode
// degrades to the original input instead of surfacing an error to the
// caller.
package rewrite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"murmur/internal/domain"
)

const systemInstruction = "You clean up dictated text. Remove filler words and disfluencies, " +
	"fix grammar and punctuation, preserve the meaning and the language of the input, " +
	"and output only the corrected text."

// Config controls the rewrite endpoint and sampling parameters.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.3
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client issues stateless rewrite requests.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Rewrite polishes text. Empty input short-circuits to an empty result and a
// missing API key passes the text through unchanged; neither issues a
// network call and both count as success.
func (c *Client) Rewrite(ctx context.Context, text string) domain.RewriteResult {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return domain.RewriteResult{Original: text, Polished: "", Success: true}
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.RewriteResult{Original: text, Polished: text, Success: true}
	}

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: trimmed},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return c.failure(text, err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return c.failure(text, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return c.failure(text, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.failure(text, fmt.Sprintf("rewrite service returned status %d", resp.StatusCode))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return c.failure(text, fmt.Sprintf("decode rewrite response: %v", err))
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return c.failure(text, "rewrite service returned an empty result")
	}

	return domain.RewriteResult{
		Original: text,
		Polished: strings.TrimSpace(parsed.Choices[0].Message.Content),
		Success:  true,
	}
}

func (c *Client) failure(text, reason string) domain.RewriteResult {
	c.log.Warn("rewrite degraded to original text", zap.String("reason", reason))
	return domain.RewriteResult{Original: text, Polished: text, Success: false, Err: reason}
}
