// Package completion wraps the LLM provider behind a small interface that
// reports actual token counts for the cost ledger.
package completion

import (
	"context"
	"errors"
)

type Request struct {
	Prompt            string
	SystemInstruction string
	// MaxOutputTokens caps generation; zero leaves the provider default.
	MaxOutputTokens int64
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name is the service label stored on usage records.
	Name() string
}

var (
	ErrUnavailable = errors.New("completion_unavailable")
	ErrEmptyPrompt = errors.New("empty_prompt")
)

type disabledClient struct{}

func (disabledClient) Complete(context.Context, Request) (*Response, error) {
	return nil, ErrUnavailable
}

func (disabledClient) Name() string { return "disabled" }
