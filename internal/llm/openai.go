package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// defaultMaxTokens caps a reply when the request leaves MaxTokens unset.
const defaultMaxTokens = 4096

// ErrEmptyCompletion is returned when the provider answers with no choices.
var ErrEmptyCompletion = errors.New("completion has no choices")

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	api *openai.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return newOpenAIClient(openai.DefaultConfig(apiKey)), nil
}

func newOpenAIClient(cfg openai.ClientConfig) *OpenAIClient {
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg)}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// Models returns the chat models a conversation may select.
func (c *OpenAIClient) Models() []string {
	return []string{DefaultOpenAIModel, "gpt-4o", "gpt-4-turbo"}
}

// Complete sends a completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	resp, err := c.api.CreateChatCompletion(ctx, openAIRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	return &CompletionResponse{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		TokensIn:   resp.Usage.PromptTokens,
		TokensOut:  resp.Usage.CompletionTokens,
		StopReason: string(choice.FinishReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request. callback sees every
// non-empty delta in order; an error from it aborts the stream.
func (c *OpenAIClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	params := openAIRequest(req)
	params.Stream = true
	stream, err := c.api.CreateChatCompletionStream(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer stream.Close()

	var (
		content    strings.Builder
		stopReason string
		model      = params.Model
		index      int
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		if resp.Model != "" {
			model = resp.Model
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if delta := choice.Delta.Content; delta != "" {
			content.WriteString(delta)
			if err := callback(delta, index); err != nil {
				return nil, err
			}
			index++
		}
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
	}

	// Streamed responses carry no usage block.
	return &CompletionResponse{
		Content:    content.String(),
		Model:      model,
		TokensIn:   estimateTokens(params.Messages),
		TokensOut:  len(content.String()) / 4,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// openAIRequest builds the API request for req, filling the default model and
// reply cap.
func openAIRequest(req *CompletionRequest) openai.ChatCompletionRequest {
	model := req.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    openAIMessages(req),
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
}

// openAIMessages converts req to OpenAI format, leading with the system prompt.
func openAIMessages(req *CompletionRequest) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return messages
}

// estimateTokens approximates prompt size at four bytes per token.
func estimateTokens(messages []openai.ChatCompletionMessage) int {
	n := 0
	for _, m := range messages {
		n += len(m.Content)
	}
	return n / 4
}
