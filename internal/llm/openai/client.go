package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"callqa-backend/internal/llm"
	"callqa-backend/internal/shared/telemetry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 120 * time.Second
	maxRetryTime   = 90 * time.Second
	maxErrorBody   = 64 * 1024
)

// Config configures a client for an OpenAI-compatible API.
type Config struct {
	// Provider names the backend in errors and logs, e.g. "openai" or "groq".
	Provider string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// Client implements llm.ChatClient and llm.AudioClient over the OpenAI HTTP API.
// Groq exposes the same surface under a different base URL.
type Client struct {
	provider   string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
}

// NewClient constructs a new client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%s api key is required", providerName(cfg.Provider))
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		provider: providerName(cfg.Provider),
		apiKey:   cfg.APIKey,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = maxRetryTime
			return b
		},
	}, nil
}

func providerName(p string) string {
	if p = strings.TrimSpace(p); p == "" {
		return "openai"
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Chat runs a chat completion and returns the first choice's content.
func (c *Client) Chat(ctx context.Context, in llm.ChatRequest) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", fmt.Errorf("%s chat model is required", c.provider)
	}
	temp := in.Temperature
	reqBody := chatRequest{
		Model:       in.Model,
		Messages:    make([]chatMessage, 0, len(in.Messages)),
		Temperature: &temp,
	}
	for _, m := range in.Messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if in.JSON {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	body, err := c.do(ctx, "/chat/completions", func() (io.Reader, string, error) {
		return bytes.NewReader(payload), "application/json", nil
	})
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%s response parse: %w", c.provider, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s response missing choices", c.provider)
	}
	if parsed.Usage != nil {
		telemetry.Debug("llm.usage", map[string]any{
			"provider":          c.provider,
			"model":             in.Model,
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		})
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// Transcribe uploads audio to /audio/transcriptions and returns plain text.
func (c *Client) Transcribe(ctx context.Context, in llm.AudioRequest) (string, error) {
	return c.audio(ctx, "/audio/transcriptions", in, true)
}

// Translate uploads audio to /audio/translations. The result is always English.
func (c *Client) Translate(ctx context.Context, in llm.AudioRequest) (string, error) {
	return c.audio(ctx, "/audio/translations", in, false)
}

func (c *Client) audio(ctx context.Context, path string, in llm.AudioRequest, withLanguage bool) (string, error) {
	if strings.TrimSpace(in.Model) == "" {
		return "", fmt.Errorf("%s audio model is required", c.provider)
	}
	data, err := os.ReadFile(in.FilePath)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}

	fields := map[string]string{
		"model":           in.Model,
		"response_format": "text",
	}
	if withLanguage && strings.TrimSpace(in.Language) != "" {
		fields["language"] = in.Language
	}
	if strings.TrimSpace(in.Prompt) != "" {
		fields["prompt"] = in.Prompt
	}
	filename := filepath.Base(in.FilePath)

	body, err := c.do(ctx, path, func() (io.Reader, string, error) {
		return multipartBody(filename, data, fields)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func multipartBody(filename string, data []byte, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	for _, key := range []string{"model", "language", "prompt", "response_format"} {
		val, ok := fields[key]
		if !ok {
			continue
		}
		if err := w.WriteField(key, val); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// do posts to path, retrying transport failures and temporary API errors.
// build is called once per attempt so request bodies can be replayed.
func (c *Client) do(ctx context.Context, path string, build func() (io.Reader, string, error)) ([]byte, error) {
	var out []byte
	attempt := 0
	op := func() error {
		attempt++
		reader, contentType, err := build()
		if err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", contentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
				err = fmt.Errorf("%s request timeout: %w", c.provider, err)
			}
			telemetry.Warn("llm.request_failed", map[string]any{
				"provider": c.provider,
				"path":     path,
				"attempt":  attempt,
				"error":    err.Error(),
			})
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := c.decodeError(resp)
			if !apiErr.Temporary() {
				return backoff.Permanent(apiErr)
			}
			telemetry.Warn("llm.request_failed", map[string]any{
				"provider":    c.provider,
				"path":        path,
				"attempt":     attempt,
				"status_code": apiErr.StatusCode,
			})
			return apiErr
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		out = body
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) decodeError(resp *http.Response) *llm.APIError {
	apiErr := &llm.APIError{Provider: c.provider, StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		apiErr.Message = env.Error.Message
		apiErr.Type = env.Error.Type
		if env.Error.Code != nil {
			apiErr.Code = fmt.Sprint(env.Error.Code)
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	return apiErr
}

var (
	_ llm.ChatClient  = (*Client)(nil)
	_ llm.AudioClient = (*Client)(nil)
)
