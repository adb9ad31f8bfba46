package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Config configures the OpenAI-compatible completer.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// OpenAICompleter talks to any OpenAI chat-completions compatible endpoint.
type OpenAICompleter struct {
	client   openai.Client
	cfg      Config
	observer Observer
	logger   *zap.Logger
}

var _ ToolCompleter = (*OpenAICompleter)(nil)

// NewOpenAICompleter builds a completer from cfg. Extra request options are
// appended after the ones derived from cfg.
func NewOpenAICompleter(cfg Config, logger *zap.Logger, extra ...option.RequestOption) *OpenAICompleter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}

	opts := []option.RequestOption{option.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	opts = append(opts, extra...)

	return &OpenAICompleter{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger.With(zap.String("component", "llm"), zap.String("model", cfg.Model)),
	}
}

// SetObserver installs a hook that sees every call outcome.
func (c *OpenAICompleter) SetObserver(o Observer) {
	c.observer = o
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, messages []types.Message, opts ...Option) (string, bool) {
	reply, ok := c.CompleteWithTools(ctx, messages, nil, opts...)
	if !ok {
		return "", false
	}
	content := strings.TrimSpace(reply.Content)
	if content == "" {
		return "", false
	}
	return content, true
}

// CompleteWithTools implements ToolCompleter.
func (c *OpenAICompleter) CompleteWithTools(ctx context.Context, messages []types.Message, tools []types.ToolSchema, opts ...Option) (*Reply, bool) {
	call := ApplyOptions(opts...)
	params := c.buildParams(messages, tools, call)

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	elapsed := time.Since(start)

	if err != nil {
		c.observe("error", elapsed)
		c.logger.Warn("completion failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		return nil, false
	}
	if len(resp.Choices) == 0 {
		c.observe("empty", elapsed)
		c.logger.Warn("completion returned no choices")
		return nil, false
	}

	msg := resp.Choices[0].Message
	reply := &Reply{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		reply.ToolCalls = append(reply.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	if strings.TrimSpace(reply.Content) == "" && !reply.HasToolCalls() {
		c.observe("empty", elapsed)
		c.logger.Warn("completion returned empty content")
		return nil, false
	}

	c.observe("ok", elapsed)
	c.logger.Debug("completion finished",
		zap.Duration("elapsed", elapsed),
		zap.Int("tool_calls", len(reply.ToolCalls)),
	)
	return reply, true
}

func (c *OpenAICompleter) buildParams(messages []types.Message, tools []types.ToolSchema, call CallOptions) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if call.System != "" {
		msgs = append(msgs, openai.SystemMessage(call.System))
	}
	for _, m := range messages {
		msgs = append(msgs, toParam(m))
	}

	temperature := c.cfg.Temperature
	if call.Temperature != nil {
		temperature = *call.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.cfg.Model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
	}
	if call.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(call.MaxTokens))
	}

	for _, t := range tools {
		fn := openai.FunctionDefinitionParam{Name: t.Name}
		if t.Description != "" {
			fn.Description = openai.String(t.Description)
		}
		if len(t.Parameters) > 0 {
			var schema openai.FunctionParameters
			if err := json.Unmarshal(t.Parameters, &schema); err == nil {
				fn.Parameters = schema
			} else {
				c.logger.Warn("dropping invalid tool schema", zap.String("tool", t.Name), zap.Error(err))
			}
		}
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{Function: fn})
	}

	return params
}

func toParam(m types.Message) openai.ChatCompletionMessageParamUnion {
	switch m.Role {
	case types.RoleSystem:
		return openai.SystemMessage(m.Content)
	case types.RoleAssistant:
		if len(m.ToolCalls) == 0 {
			return openai.AssistantMessage(m.Content)
		}
		asst := openai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = openai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	case types.RoleTool:
		return openai.ToolMessage(m.Content, m.ToolCallID)
	default:
		return openai.UserMessage(m.Content)
	}
}

func (c *OpenAICompleter) observe(status string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveCompletion(status, d.Seconds())
	}
}
