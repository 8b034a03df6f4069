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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func perplexityServer(t *testing.T, handler http.HandlerFunc) *PerplexityProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewPerplexityProvider("test-key", srv.URL, Params{Model: "sonar"}, nil)
	require.NoError(t, err)
	return p
}

func TestPerplexity_Success(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "sonar",
			"choices": [{"message": {"role": "assistant", "content": "Salesforce is the leading CRM."}}],
			"search_results": [{"url": "https://www.salesforce.com/crm"}, {"url": "https://example.org/review"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 8, "total_tokens": 20}
		}`))
	})

	resp, err := p.Invoke(context.Background(), "best CRM?")
	require.NoError(t, err)
	assert.Equal(t, "Salesforce is the leading CRM.", resp.Text)
	assert.Equal(t, []string{"https://www.salesforce.com/crm", "https://example.org/review"}, resp.Citations)
	assert.Equal(t, 20, resp.Usage.TotalTokens)
	assert.Greater(t, resp.Latency, time.Duration(0))
}

func TestPerplexity_LegacyCitationsField(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"choices": [{"message": {"content": "answer"}}],
			"citations": ["https://docs.example.com"]
		}`))
	})

	resp, err := p.Invoke(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://docs.example.com"}, resp.Citations)
}

func TestPerplexity_RateLimited(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "rate limit exceeded", "type": "rate_limit"}}`))
	})

	_, err := p.Invoke(context.Background(), "q")
	require.Error(t, err)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindRateLimited, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
	assert.True(t, Retryable(err))
}

func TestPerplexity_AuthFailed(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := p.Invoke(context.Background(), "q")
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindAuthFailed, pe.Kind)
	assert.False(t, Retryable(err))
}

func TestPerplexity_MalformedBody(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	})

	_, err := p.Invoke(context.Background(), "q")
	assert.Equal(t, KindMalformed, Classify(err))
}

func TestPerplexity_EmptyChoices(t *testing.T) {
	p := perplexityServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})

	_, err := p.Invoke(context.Background(), "q")
	assert.Equal(t, KindMalformed, Classify(err))
}

func TestPerplexity_RequiresAPIKey(t *testing.T) {
	_, err := NewPerplexityProvider("", "", Params{}, nil)
	assert.Error(t, err)
}
