// Package model defines the provider-neutral interface to language models.
// Vendor subpackages adapt concrete SDKs (OpenAI, Anthropic) to it; the turn
// engine consumes only this package.
package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/parlourhq/parlour/core"
)

// ToolDefinition declaratively exposes a callable capability to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request is the normalized model input assembled by the turn engine.
type Request struct {
	Messages []core.ChatMessage
	Config   core.ModelConfig
	Tools    []ToolDefinition
	Stream   bool
}

// TokenUsage captures token statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a partial or final chunk emitted by a provider. Partial chunks
// carry text deltas; the final chunk carries the full text, any tool call
// requests and the finish reason.
type Response struct {
	Partial      bool
	Text         string
	ToolCalls    []core.ToolCallRequest
	FinishReason string
	Usage        *TokenUsage
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal interface the turn engine needs to drive
// generation. Implementations must close both channels when done and honor
// ctx cancellation mid-stream.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns metadata about the provider implementation.
	Info() Info
}

// Turn scripts one Generate invocation of the MockProvider.
type Turn struct {
	Text         string
	ToolCalls    []core.ToolCallRequest
	FinishReason string
	Err          error
	// Block, when set, makes Generate wait for ctx cancellation instead of
	// answering. Used to exercise abort paths.
	Block bool
}

// MockProvider is a scriptable in-memory Provider for tests and examples.
// Each Generate call consumes the next scripted turn.
type MockProvider struct {
	mu       sync.Mutex
	turns    []Turn
	requests []Request
}

// NewMockProvider constructs an empty MockProvider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Enqueue appends scripted turns.
func (m *MockProvider) Enqueue(turns ...Turn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	return m
}

// Requests returns every Request seen so far, in order.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 4)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var turn Turn
	if len(m.turns) > 0 {
		turn = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		turn = Turn{Text: "mock response", FinishReason: "stop"}
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if turn.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Response{
			Text:         turn.Text,
			ToolCalls:    turn.ToolCalls,
			FinishReason: turn.FinishReason,
		}:
		}
	}()
	return out, errCh
}

// Info implements Provider.
func (m *MockProvider) Info() Info {
	return Info{Name: "mock", Provider: "mock", SupportsTools: true}
}

// Collect drains a Generate stream into the final response, preferring the
// last non-partial chunk. Returns the first error observed.
func Collect(respCh <-chan Response, errCh <-chan error) (*Response, error) {
	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, fmt.Errorf("model produced no final response")
	}
	return final, nil
}
