package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vietvoz/vozgate/internal/observe"
	"github.com/vietvoz/vozgate/pkg/provider/llm"
)

// jsonMaxTokens caps ChatJSON completions when the config leaves MaxTokens
// unset. Classification objects are tiny; the cap only guards against a
// rambling model.
const jsonMaxTokens = 180

// ChatConfig configures a [ChatService].
type ChatConfig struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// FallbackReply is spoken verbatim when every endpoint fails. It keeps
	// the device conversational instead of silent.
	FallbackReply string

	// Metrics overrides the default instrument set, mainly for tests.
	Metrics *observe.Metrics
}

// ChatService implements chat completion with automatic failover across a
// [Chain] of llm endpoints. Streaming commits to an endpoint on its first
// non-empty delta: anything that breaks afterwards is logged but never
// replayed against a fallback, so the device cannot hear two half answers.
type ChatService struct {
	chain   *Chain[llm.Endpoint]
	cfg     ChatConfig
	metrics *observe.Metrics
}

// NewChatService creates a ChatService with primary as the preferred
// endpoint.
func NewChatService(primary llm.Endpoint, primaryName string, cfg ChatConfig) *ChatService {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &ChatService{chain: NewChain(primary, primaryName), cfg: cfg, metrics: m}
}

// AddFallback registers an additional endpoint, tried after the ones already
// registered.
func (s *ChatService) AddFallback(name string, e llm.Endpoint) {
	s.chain.Add(name, e)
}

// ProviderNames returns the endpoint names in try order, for startup logs.
func (s *ChatService) ProviderNames() []string { return s.chain.Names() }

// ChatStream streams the assistant reply for userText given the prior
// history. The returned channel yields text deltas and is closed when the
// reply is complete. It never fails: if every endpoint is down the
// configured fallback reply is emitted as a single delta.
func (s *ChatService) ChatStream(ctx context.Context, userText string, history []llm.Message) <-chan string {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})

	out := make(chan string, 32)
	go func() {
		defer close(out)

		err := s.chain.Execute(func(name string, ep llm.Endpoint) error {
			if err := s.streamFrom(ctx, name, ep, messages, out); err != nil {
				s.metrics.RecordProviderError(ctx, name, "chat")
				return err
			}
			return nil
		})
		if err != nil {
			slog.Error("all llm providers failed", "error", err)
			deliver(ctx, out, s.cfg.FallbackReply)
		}
	}()
	return out
}

// ChatJSON runs a non-streaming completion expected to yield a single JSON
// object, failing over across endpoints. Each endpoint is tried first with
// response_format json_object and once more without it, since some backends
// reject the parameter outright.
func (s *ChatService) ChatJSON(ctx context.Context, userText, systemPrompt string) (map[string]any, error) {
	maxTokens := s.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = jsonMaxTokens
	}
	req := llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userText},
		},
		MaxTokens:   maxTokens,
		Temperature: s.cfg.Temperature,
	}

	return ExecuteWithResult(s.chain, func(name string, ep llm.Endpoint) (map[string]any, error) {
		jsonReq := req
		jsonReq.JSONObject = true
		content, err := ep.Complete(ctx, jsonReq)
		if err != nil {
			content, err = ep.Complete(ctx, req)
		}
		if err != nil {
			s.metrics.RecordProviderError(ctx, name, "chat_json")
			return nil, err
		}
		if strings.TrimSpace(content) == "" {
			s.metrics.RecordProviderError(ctx, name, "chat_json")
			return nil, fmt.Errorf("empty JSON response")
		}
		obj, err := llm.ParseJSONObject(content)
		if err != nil {
			s.metrics.RecordProviderError(ctx, name, "chat_json")
			return nil, err
		}
		return obj, nil
	})
}

// streamFrom runs one endpoint's stream end to end. An error return means
// the endpoint never produced a usable delta and the chain may fail over;
// errors after the first delta are logged only.
func (s *ChatService) streamFrom(ctx context.Context, name string, ep llm.Endpoint, messages []llm.Message, out chan<- string) error {
	stream, err := ep.StreamChat(ctx, llm.Request{
		Messages:    messages,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	// Read the first delta before committing to this endpoint. An
	// empty stream counts as a failure and moves on.
	first, err := stream.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response from LLM")
		}
		return err
	}
	slog.Info("llm responding", "provider", name)

	if !deliver(ctx, out, first) {
		return nil
	}
	for {
		delta, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("llm stream ended early", "provider", name, "error", err)
			}
			return nil
		}
		if !deliver(ctx, out, delta) {
			return nil
		}
	}
}

// deliver sends one delta unless the context is cancelled. It reports
// whether the send happened.
func deliver(ctx context.Context, out chan<- string, delta string) bool {
	select {
	case out <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}
