// Package openai implements llm.Endpoint against any OpenAI-compatible chat
// API. Retries are disabled so a slow or failing endpoint hands over to the
// next one in the chain immediately.
package openai

import (
	"context"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/vietvoz/vozgate/pkg/provider/llm"
)

// Compile-time assertion that Endpoint satisfies llm.Endpoint.
var _ llm.Endpoint = (*Endpoint)(nil)

// Endpoint is one OpenAI-compatible chat backend.
type Endpoint struct {
	client oai.Client
	model  string
}

// New constructs an Endpoint. apiKey may be empty for local servers that do
// not check authentication.
func New(apiKey, baseURL, model string) (*Endpoint, error) {
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		// No retries: failover to the next provider beats waiting.
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}

	return &Endpoint{client: oai.NewClient(reqOpts...), model: model}, nil
}

// StreamChat implements llm.Endpoint.
func (e *Endpoint) StreamChat(ctx context.Context, req llm.Request) (llm.Stream, error) {
	stream := e.client.Chat.Completions.NewStreaming(ctx, e.buildParams(req))
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}
	return &deltaStream{inner: stream}, nil
}

// Complete implements llm.Endpoint.
func (e *Endpoint) Complete(ctx context.Context, req llm.Request) (string, error) {
	resp, err := e.client.Chat.Completions.New(ctx, e.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (e *Endpoint) buildParams(req llm.Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, oai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, oai.AssistantMessage(m.Content))
		default:
			messages = append(messages, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(e.model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.JSONObject {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// deltaStream adapts the SDK's SSE stream to llm.Stream, skipping chunks
// without content.
type deltaStream struct {
	inner *ssestream.Stream[oai.ChatCompletionChunk]
}

func (s *deltaStream) Next() (string, error) {
	for s.inner.Next() {
		chunk := s.inner.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			return delta, nil
		}
	}
	if err := s.inner.Err(); err != nil {
		return "", fmt.Errorf("openai: stream: %w", err)
	}
	return "", io.EOF
}

func (s *deltaStream) Close() error {
	return s.inner.Close()
}
