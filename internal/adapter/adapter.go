package adapter

import (
	"context"

	"github.com/promptgate/promptgate/internal/openai"
)

// ChatAdapter turns an OpenAI-compatible chat request into a completion from
// a concrete upstream.
type ChatAdapter interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}
