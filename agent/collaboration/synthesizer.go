package collaboration

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

const instrumentationName = "github.com/BaSui01/agentmesh/agent/collaboration"

// Contribution is one agent's part of a combined answer.
type Contribution struct {
	Agent  string
	Result string
}

const decomposedSystemPrompt = "You are an expert synthesis specialist who creates comprehensive, detailed responses from multiple agent contributions. You excel at combining diverse perspectives into cohesive, well-structured analyses with clear insights and actionable recommendations."

const adHocSystemPrompt = "You are an expert at synthesizing multiple perspectives into coherent, comprehensive responses."

// Synthesizer merges several agent results into one answer.
type Synthesizer struct {
	completer llm.Completer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewSynthesizer creates a Synthesizer. A nil completer makes every
// multi-contribution synthesis fail, which callers report to the user.
func NewSynthesizer(completer llm.Completer, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		completer: completer,
		logger:    logger.With(zap.String("component", "synthesizer")),
		tracer:    otel.Tracer(instrumentationName),
	}
}

// Combine returns one answer for task built from parts.
//
// Zero parts is a no-op that returns false without calling the completion
// service. A single part is returned verbatim. Otherwise the completion
// service writes the answer; false means it produced nothing.
func (s *Synthesizer) Combine(ctx context.Context, mode, task string, parts []Contribution) (string, bool) {
	if len(parts) == 0 {
		s.logger.Debug("no contributions to synthesize", zap.String("task", task))
		return "", false
	}
	if len(parts) == 1 {
		return parts[0].Result, true
	}

	ctx, span := s.tracer.Start(ctx, "collaboration.synthesize",
		trace.WithAttributes(
			attribute.String("collaboration.mode", mode),
			attribute.Int("collaboration.contributions", len(parts)),
		))
	defer span.End()

	if s.completer == nil {
		span.SetStatus(codes.Error, "no completer")
		return "", false
	}

	prompt, system := buildPrompt(mode, task, parts)
	out, ok := s.completer.Complete(ctx, []types.Message{types.NewUserMessage(prompt)}, llm.WithSystem(system))
	out = strings.TrimSpace(out)
	if !ok || out == "" {
		span.SetStatus(codes.Error, "completion failed")
		s.logger.Warn("synthesis failed", zap.String("mode", mode), zap.Int("contributions", len(parts)))
		return "", false
	}
	return out, true
}

func buildPrompt(mode, task string, parts []Contribution) (prompt, system string) {
	var b strings.Builder
	if mode == ModeAdHoc {
		b.WriteString("Synthesize these agent responses into a coherent answer:\n\n")
		fmt.Fprintf(&b, "Task: %s\n\nAgent Responses:\n", task)
	} else {
		b.WriteString("Synthesize these agent responses into a concise, well-structured answer:\n\n")
		fmt.Fprintf(&b, "Original Task: %s\n\nAgent Contributions:\n", task)
	}
	for _, p := range parts {
		fmt.Fprintf(&b, "\n%s: %s\n", types.DisplayName(p.Agent), p.Result)
	}
	if mode == ModeAdHoc {
		b.WriteString("\nProvide a comprehensive, well-structured response combining all agent contributions.")
		return b.String(), adHocSystemPrompt
	}
	b.WriteString("\nCreate a comprehensive, well-structured final response that combines all agent contributions. ")
	b.WriteString("Include detailed analysis, key insights, and actionable recommendations. ")
	b.WriteString("Use proper markdown formatting with headers, lists, and emphasis where appropriate.")
	return b.String(), decomposedSystemPrompt
}

// FormatSentences puts each sentence of a synthesized answer on its own line.
func FormatSentences(s string) string {
	return strings.ReplaceAll(s, ". ", ".\n")
}
