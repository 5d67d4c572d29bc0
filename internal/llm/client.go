package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deepsearch/backend/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrMissingAPIKey = errors.New("openrouter api key is not configured")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Usage struct {
	Descriptor       string `json:"descriptor,omitempty"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
}

type CompletionRequest struct {
	System string
	Prompt string
}

type StreamRequest struct {
	Messages []Message
}

// ObjectRequest asks the model for a single JSON object constrained by
// Schema. The schema is enforced server-side via response_format; parsing
// is still strict on our side because providers occasionally wrap the
// object in prose.
type ObjectRequest struct {
	System     string
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type chatAPIRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream,omitempty"`
	StreamOptions  *streamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatAPIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamAPIResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *apiUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.OpenRouterAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/"),
		model:      strings.TrimSpace(cfg.OpenRouterModel),
		httpClient: httpClient,
	}
}

// Complete performs a non-streaming text generation call.
func (c Client) Complete(ctx context.Context, req CompletionRequest) (string, Usage, error) {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	parsed, err := c.chat(ctx, chatAPIRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", Usage{}, err
	}
	if len(parsed.Choices) == 0 {
		return "", usageFromAPI(parsed.Usage), errors.New("empty completion response")
	}
	return parsed.Choices[0].Message.Content, usageFromAPI(parsed.Usage), nil
}

// GenerateObject performs a schema-constrained generation call and decodes
// the resulting JSON object into target.
func (c Client) GenerateObject(ctx context.Context, req ObjectRequest, target any) (Usage, error) {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: req.Prompt})

	name := strings.TrimSpace(req.SchemaName)
	if name == "" {
		name = "response"
	}

	parsed, err := c.chat(ctx, chatAPIRequest{
		Model:    c.model,
		Messages: messages,
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: name, Strict: true, Schema: req.Schema},
		},
	})
	if err != nil {
		return Usage{}, err
	}
	if len(parsed.Choices) == 0 {
		return usageFromAPI(parsed.Usage), errors.New("empty structured response")
	}

	raw := extractJSONBlock(parsed.Choices[0].Message.Content)
	if raw == "" {
		return usageFromAPI(parsed.Usage), errors.New("structured response did not include json")
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return usageFromAPI(parsed.Usage), fmt.Errorf("decode structured response: %w", err)
	}
	return usageFromAPI(parsed.Usage), nil
}

func (c Client) chat(ctx context.Context, req chatAPIRequest) (chatAPIResponse, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return chatAPIResponse{}, ErrMissingAPIKey
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return chatAPIResponse{}, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatAPIResponse{}, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chatAPIResponse{}, fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return chatAPIResponse{}, fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed chatAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return chatAPIResponse{}, fmt.Errorf("decode openrouter response: %w", err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return chatAPIResponse{}, errors.New(strings.TrimSpace(parsed.Error.Message))
	}
	return parsed, nil
}

// Stream performs a streaming generation call, invoking onDelta for each
// content fragment as it arrives.
func (c Client) Stream(ctx context.Context, req StreamRequest, onDelta func(string) error) (Usage, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return Usage{}, ErrMissingAPIKey
	}
	if len(req.Messages) == 0 {
		return Usage{}, errors.New("messages are required")
	}

	payload, err := json.Marshal(chatAPIRequest{
		Model:         c.model,
		Messages:      req.Messages,
		Stream:        true,
		StreamOptions: &streamOptions{IncludeUsage: true},
	})
	if err != nil {
		return Usage{}, fmt.Errorf("marshal openrouter request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Usage{}, fmt.Errorf("build openrouter request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Usage{}, fmt.Errorf("request openrouter: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return Usage{}, fmt.Errorf("openrouter returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var usage Usage
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return usage, nil
		}

		var parsed streamAPIResponse
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			continue
		}
		if parsed.Usage != nil {
			usage = usageFromAPI(parsed.Usage)
		}
		if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
			return usage, errors.New(strings.TrimSpace(parsed.Error.Message))
		}

		for _, choice := range parsed.Choices {
			delta := choice.Delta.Content
			if delta == "" {
				continue
			}
			if onDelta != nil {
				if err := onDelta(delta); err != nil {
					return usage, err
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return usage, fmt.Errorf("read openrouter stream: %w", err)
	}
	return usage, nil
}

func usageFromAPI(raw *apiUsage) Usage {
	if raw == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      raw.TotalTokens,
	}
}

func extractJSONBlock(raw string) string {
	value := strings.TrimSpace(raw)
	if strings.HasPrefix(value, "{") && strings.HasSuffix(value, "}") {
		return value
	}
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start == -1 || end == -1 || end <= start {
		return ""
	}
	return strings.TrimSpace(value[start : end+1])
}
