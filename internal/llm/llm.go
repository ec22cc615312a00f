// Package llm wraps the OpenAI compatible chat completion API used to search,
// rank and summarise answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/comigor/seijitalk-go/internal/config"
	"github.com/sashabaranov/go-openai"
)

// Client is the one completion call the resolvers make. *openai.Client
// satisfies it; tests substitute a scripted fake.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrEmptyReply is returned when the model answers with no content.
var ErrEmptyReply = errors.New("llm returned an empty reply")

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// Exchange is a single system + user prompt sent to the model.
type Exchange struct {
	Model       string
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	JSON        bool // ask for a JSON object response
}

// Ask sends one exchange and returns the trimmed content of the first choice.
func Ask(ctx context.Context, c Client, ex Exchange) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: ex.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: ex.System},
			{Role: openai.ChatMessageRoleUser, Content: ex.User},
		},
		Temperature: ex.Temperature,
		MaxTokens:   ex.MaxTokens,
		N:           1,
	}
	if ex.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
