// Package openai adapts an OpenAI-compatible chat-completions endpoint to
// the ports.Reasoner contract: every completion is validated against the
// request's JSON schema before it reaches the caller.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/web3devz/polytrader/internal/domain"
	"github.com/web3devz/polytrader/internal/ports"
)

const (
	maxRetries  = 2
	baseBackoff = 800 * time.Millisecond
	maxBackoff  = 8 * time.Second
	temperature = 0.2
)

// Client implements ports.Reasoner against /chat/completions.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	model   string

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// New creates a reasoning client. baseURL may point at any OpenAI-compatible
// endpoint; a trailing /chat/completions suffix is tolerated.
func New(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/chat/completions")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		schemas: make(map[string]*jsonschema.Schema),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete runs one chat completion and unmarshals the validated JSON output
// into out. Schema violations surface as *domain.ParseError.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest, out any) error {
	content, err := c.chat(ctx, req.System, req.Prompt)
	if err != nil {
		return fmt.Errorf("openai.Complete: %w", err)
	}

	doc, ok := extractJSON(content)
	if !ok {
		return &domain.ParseError{
			Schema: req.SchemaName,
			Raw:    content,
			Err:    fmt.Errorf("no JSON object in completion"),
		}
	}

	schema, err := c.compiled(req.SchemaName, req.Schema)
	if err != nil {
		return fmt.Errorf("openai.Complete: compile schema %s: %w", req.SchemaName, err)
	}

	var value any
	if err := json.Unmarshal([]byte(doc), &value); err != nil {
		return &domain.ParseError{Schema: req.SchemaName, Raw: content, Err: err}
	}
	if err := schema.Validate(value); err != nil {
		return &domain.ParseError{Schema: req.SchemaName, Raw: content, Err: err}
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return &domain.ParseError{Schema: req.SchemaName, Raw: content, Err: err}
	}
	return nil
}

// chat posts the completion request, retrying 429 and 5xx with backoff and
// Retry-After support.
func (c *Client) chat(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = fmt.Errorf("%v: %w", err, domain.ErrUnavailable)
			c.wait(ctx, attempt, "")
			continue
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode/100 == 2 {
			var cr chatResponse
			if err := json.Unmarshal(raw, &cr); err != nil {
				return "", fmt.Errorf("decode response: %w", err)
			}
			if len(cr.Choices) == 0 {
				return "", fmt.Errorf("empty choices: %w", domain.ErrUnavailable)
			}
			return cr.Choices[0].Message.Content, nil
		}

		var cr chatResponse
		_ = json.Unmarshal(raw, &cr)
		msg := resp.Status
		if cr.Error != nil && cr.Error.Message != "" {
			msg = cr.Error.Message
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("model throttled: %s: %w", msg, domain.ErrRateLimited)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("model error %d: %s: %w", resp.StatusCode, msg, domain.ErrUnavailable)
		default:
			return "", fmt.Errorf("model rejected request (%d): %s", resp.StatusCode, msg)
		}
		if attempt < maxRetries {
			slog.Warn("model call failed, retrying", "status", resp.StatusCode, "attempt", attempt+1)
			c.wait(ctx, attempt, resp.Header.Get("Retry-After"))
		}
	}
	return "", lastErr
}

func (c *Client) wait(ctx context.Context, attempt int, retryAfter string) {
	delay := baseBackoff << attempt
	if retryAfter != "" {
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// compiled returns the cached compiled schema for name, compiling on first
// use.
func (c *Client) compiled(name string, raw []byte) (*jsonschema.Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.schemas[name]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	resource := name + ".json"
	if err := compiler.AddResource(resource, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile(resource)
	if err != nil {
		return nil, err
	}
	c.schemas[name] = s
	return s, nil
}
