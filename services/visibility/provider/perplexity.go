// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultPerplexityBaseURL = "https://api.perplexity.ai"
	defaultPerplexityModel   = "sonar"
)

// PerplexityProvider calls the Perplexity chat completions API. The
// wire shape is OpenAI-compatible with an extra search_results field;
// those URLs become Response.Citations, which is what makes citation
// validity analysis possible for this provider.
type PerplexityProvider struct {
	apiKey  string
	baseURL string
	params  Params
	client  *http.Client
	logger  *slog.Logger
}

type perplexityRequest struct {
	Model       string              `json:"model"`
	Messages    []perplexityMessage `json:"messages"`
	Temperature float32             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type perplexityMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type perplexityResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message perplexityMessage `json:"message"`
	} `json:"choices"`
	// search_results is the current field; citations is the legacy
	// plain-URL list older API versions return.
	SearchResults []struct {
		URL string `json:"url"`
	} `json:"search_results"`
	Citations []string `json:"citations"`
	Usage     struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type perplexityErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewPerplexityProvider builds an adapter. baseURL is overridable for
// tests; empty means the public API.
func NewPerplexityProvider(apiKey, baseURL string, params Params, logger *slog.Logger) (*PerplexityProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("perplexity: API key not configured")
	}
	if baseURL == "" {
		baseURL = defaultPerplexityBaseURL
	}
	if params.Model == "" {
		params.Model = defaultPerplexityModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PerplexityProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		params:  params,
		client:  &http.Client{Timeout: params.timeout()},
		logger:  logger,
	}, nil
}

func (p *PerplexityProvider) Name() string { return "perplexity" }

// Invoke implements Provider.
func (p *PerplexityProvider) Invoke(ctx context.Context, prompt string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.params.timeout())
	defer cancel()

	var messages []perplexityMessage
	if p.params.SystemPrompt != "" {
		messages = append(messages, perplexityMessage{Role: "system", Content: p.params.SystemPrompt})
	}
	messages = append(messages, perplexityMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(perplexityRequest{
		Model:       p.params.Model,
		Messages:    messages,
		Temperature: p.params.Temperature,
		MaxTokens:   p.params.MaxTokens,
	})
	if err != nil {
		return nil, newError(KindMalformed, p.Name(), fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindMalformed, p.Name(), err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return nil, newError(KindTransient, p.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, newError(KindTransient, p.Name(), fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp, data)
	}

	var parsed perplexityResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, newError(KindMalformed, p.Name(), fmt.Errorf("decode response: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return nil, newError(KindMalformed, p.Name(), fmt.Errorf("response contained no choices"))
	}

	citations := parsed.Citations
	if len(parsed.SearchResults) > 0 {
		citations = make([]string, 0, len(parsed.SearchResults))
		for _, sr := range parsed.SearchResults {
			if sr.URL != "" {
				citations = append(citations, sr.URL)
			}
		}
	}

	model := parsed.Model
	if model == "" {
		model = p.params.Model
	}

	return &Response{
		Text:      parsed.Choices[0].Message.Content,
		Citations: citations,
		Model:     model,
		Latency:   latency,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (p *PerplexityProvider) statusError(resp *http.Response, data []byte) *Error {
	msg := http.StatusText(resp.StatusCode)
	var eb perplexityErrorBody
	if err := json.Unmarshal(data, &eb); err == nil && eb.Error.Message != "" {
		msg = eb.Error.Message
	}

	ce := newError(classifyStatus(resp.StatusCode), p.Name(), fmt.Errorf("%s", msg))
	ce.StatusCode = resp.StatusCode
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			ce.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return ce
}
