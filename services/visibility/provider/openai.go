// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider adapts the OpenAI chat completions API to the
// Provider contract.
type OpenAIProvider struct {
	client *openai.Client
	params Params
	logger *slog.Logger
}

// NewOpenAIProvider builds an adapter for the given API key. An empty
// model in params defaults to gpt-4o-mini.
func NewOpenAIProvider(apiKey string, params Params, logger *slog.Logger) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}
	if params.Model == "" {
		params.Model = defaultOpenAIModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		params: params,
		logger: logger,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Invoke implements Provider.
func (p *OpenAIProvider) Invoke(ctx context.Context, prompt string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.params.timeout())
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if p.params.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.params.SystemPrompt,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       p.params.Model,
		Messages:    messages,
		Temperature: p.params.Temperature,
	}
	if p.params.MaxTokens > 0 {
		req.MaxCompletionTokens = p.params.MaxTokens
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newError(KindMalformed, p.Name(), fmt.Errorf("response contained no choices"))
	}

	return &Response{
		Text:    resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Latency: latency,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) classify(err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		ce := newError(classifyStatus(apiErr.HTTPStatusCode), p.Name(), err)
		ce.StatusCode = apiErr.HTTPStatusCode
		return ce
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		ce := newError(classifyStatus(reqErr.HTTPStatusCode), p.Name(), err)
		ce.StatusCode = reqErr.HTTPStatusCode
		return ce
	}
	// Network failures and context expiry land here.
	return newError(KindTransient, p.Name(), err)
}
