// Package assistant implements the agent that owns user sessions. It answers
// users directly, manages other agents through tool calls and coordinates
// multi-agent collaborations.
package assistant

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/collaboration"
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/mention"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/agent/runtime"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// NoResponseText is sent when the completion service produced nothing.
const NoResponseText = "Sorry, I was unable to get a response."

// sweepInterval is how often expired collaborations are force-completed
// when no traffic arrives to trigger it.
const sweepInterval = time.Second

// Control is the orchestrator API the assistant uses. *discovery.Client
// implements it.
type Control interface {
	runtime.ControlPlane
	collaboration.Directory

	Agents(ctx context.Context) ([]types.AgentInfo, error)
	Names(ctx context.Context) mention.Names
	Runbooks(ctx context.Context) ([]*runbook.Runbook, error)
	StopAgent(ctx context.Context, name string) (string, error)
	CreateAgent(ctx context.Context, req api.CreateAgentRequest) (string, error)
	DeleteAgent(ctx context.Context, req api.DeleteAgentRequest) (string, *api.DeleteResult, error)
	ActionServers(ctx context.Context) ([]api.ActionServerInfo, error)
	AssignActionServer(ctx context.Context, agent, server string) (string, *api.AssignResult, error)
	RemoveActionServer(ctx context.Context, agent string) (string, error)
}

var _ Control = (*discovery.Client)(nil)

// Assistant is the coordinating agent.
type Assistant struct {
	rt        *runtime.Runtime
	completer llm.Completer
	control   Control
	coord     *collaboration.Coordinator
	userTopic string
	logger    *zap.Logger
}

// New creates the assistant on top of rt.
func New(rt *runtime.Runtime, completer llm.Completer, control Control, cfg collaboration.Config) *Assistant {
	coord := collaboration.NewCoordinator(rt.Name(), cfg, rt.Messenger(), control, completer, rt.Logger())
	userTopic := cfg.DefaultUserTopic
	if userTopic == "" {
		userTopic = collaboration.DefaultConfig().DefaultUserTopic
	}
	return &Assistant{
		rt:        rt,
		completer: completer,
		control:   control,
		coord:     coord,
		userTopic: userTopic,
		logger:    rt.Logger().With(zap.String("component", "assistant")),
	}
}

// Coordinator exposes the collaboration coordinator.
func (a *Assistant) Coordinator() *collaboration.Coordinator { return a.coord }

// Run serves the inbox until ctx ends.
func (a *Assistant) Run(ctx context.Context) error {
	a.rt.Go(a.sweepLoop)
	return a.rt.Run(ctx, a.Handle)
}

func (a *Assistant) sweepLoop(ctx context.Context) error {
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.coord.Sweep(ctx)
		}
	}
}

// Handle routes one inbox message.
func (a *Assistant) Handle(ctx context.Context, _ string, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.TaskResult:
		a.coord.HandleResult(ctx, m)
	case *protocol.NaturalResponse:
		if !m.HasRouting() {
			a.logger.Debug("ignoring unrouted response", zap.String("from", m.FromAgent))
			return
		}
		a.coord.HandleNaturalResponse(ctx, m)
	case *protocol.ChatRequest:
		replyTo := m.ReplyTo
		if replyTo == "" {
			replyTo = a.userTopic
		}
		a.Respond(ctx, m.Messages, replyTo)
	case *protocol.Text:
		a.Respond(ctx, []types.Message{types.NewUserMessage(m.Body)}, a.userTopic)
	case *protocol.NaturalMessage:
		if !protocol.IsUserTopic(m.ReplyTo) {
			a.logger.Debug("ignoring agent conversation", zap.String("from", m.FromAgent))
			return
		}
		msgs := m.Messages
		if len(msgs) == 0 {
			msgs = []types.Message{types.NewUserMessage(m.Text())}
		}
		a.Respond(ctx, msgs, m.ReplyTo)
	default:
		a.logger.Debug("ignoring message", zap.String("kind", string(msg.Kind())))
	}
}

// Respond answers a user conversation: tool calls are executed, their
// results and the text reply go to replyTo, and "Agent, instruction" lines
// in the reply are forwarded to those agents.
func (a *Assistant) Respond(ctx context.Context, messages []types.Message, replyTo string) {
	system := a.systemPrompt(ctx)
	msgs := a.coord.History().Inject(messages)

	reply, ok := a.complete(ctx, msgs, system)
	if !ok {
		a.send(ctx, replyTo, NoResponseText)
		return
	}

	var info []types.Message
	for _, call := range reply.ToolCalls {
		result := a.callTool(ctx, call, replyTo)
		if silentTools[call.Name] {
			info = append(info, types.NewToolMessage(call.ID, call.Name, result))
			continue
		}
		if result != "" {
			a.send(ctx, replyTo, result)
		}
	}

	content := strings.TrimSpace(reply.Content)
	if len(info) > 0 {
		followUp := append(append([]types.Message(nil), msgs...), types.Message{
			Role:      types.RoleAssistant,
			Content:   reply.Content,
			ToolCalls: reply.ToolCalls,
		})
		followUp = append(followUp, info...)
		if out, ok := a.completer.Complete(ctx, followUp, llm.WithSystem(system)); ok && strings.TrimSpace(out) != "" {
			content = strings.TrimSpace(out)
		}
	}

	if content == "" {
		if !reply.HasToolCalls() {
			a.send(ctx, replyTo, NoResponseText)
		}
		return
	}
	a.send(ctx, replyTo, content)
	if !reply.HasToolCalls() {
		a.forwardAgentLines(ctx, content, replyTo)
	}
}

func (a *Assistant) complete(ctx context.Context, msgs []types.Message, system string) (*llm.Reply, bool) {
	if a.completer == nil {
		return nil, false
	}
	if tc, ok := a.completer.(llm.ToolCompleter); ok {
		reply, ok := tc.CompleteWithTools(ctx, msgs, toolSchemas, llm.WithSystem(system))
		return reply, ok && reply != nil
	}
	out, ok := a.completer.Complete(ctx, msgs, llm.WithSystem(system))
	return &llm.Reply{Content: out}, ok
}

func (a *Assistant) send(ctx context.Context, topic, text string) {
	if err := a.rt.Messenger().SendText(ctx, topic, text); err != nil {
		a.logger.Warn("reply not delivered", zap.String("topic", topic), zap.Error(err))
	}
}

// =============================================================================
// Prompt
// =============================================================================

func (a *Assistant) systemPrompt(ctx context.Context) string {
	rb := a.rt.Runbook()
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s. %s\n", rb.JobTitle, rb.Role)

	peers, err := a.control.Peers(ctx)
	if err != nil {
		a.logger.Warn("peer lookup failed", zap.Error(err))
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })

	b.WriteString("\n## Available Agents\n")
	if len(peers) == 0 {
		b.WriteString("No other agents are currently available.\n")
	}
	for _, p := range peers {
		state := "stopped"
		if p.Running {
			state = "running"
		}
		caps := make([]string, 0, len(p.Capabilities))
		for _, c := range p.Capabilities {
			caps = append(caps, c.Name)
		}
		fmt.Fprintf(&b, "- %s (%s, %s): %s\n", types.DisplayName(p.Name), p.Name, state, p.JobTitle)
		if len(caps) > 0 {
			fmt.Fprintf(&b, "  Capabilities: %s\n", strings.Join(caps, ", "))
		}
	}

	b.WriteString(`
## Agent Delegation
To hand a request to one running agent, write a line of the form "Agent Name, <instruction>." The agent receives the instruction and its answer is shown to the user.
For a task that needs several agents, call the collaborate function. To ask specific agents for their view on the same task, call collaborate_with_agents.
Use the management functions to start, stop, create or delete agents and to assign action servers.
`)

	var actions []string
	for _, p := range peers {
		for _, act := range p.Actions {
			if act.Enabled {
				actions = append(actions, fmt.Sprintf("- %s: %s (%s) - %s", p.Name, act.Name, act.ID, act.Description))
			}
		}
	}
	if len(actions) > 0 {
		b.WriteString("\n## Agent Actions\nThese agents can execute external actions when asked:\n")
		b.WriteString(strings.Join(actions, "\n"))
		b.WriteString("\n")
	}

	b.WriteString("\n## Routing\nUsers may address an agent directly with @name; those messages never reach you. Everything else is yours to answer or delegate.\n")

	if rb.SystemInstructions != "" {
		b.WriteString("\n## Instructions\n")
		b.WriteString(rb.SystemInstructions)
		b.WriteString("\n")
	}
	return b.String()
}

// =============================================================================
// Agent lines
// =============================================================================

const delegationVerbs = `analyze|calculate|compute|translate|write|create|find|search|research|summarize|explain|describe|list|show|tell|help|introduce|generate|build|make|process|handle|check|verify|review`

var verbPattern = regexp.MustCompile(`(?i)^(?:please\s+)?(?:` + delegationVerbs + `)\b`)

// forwardAgentLines sends "Agent, instruction" lines from the assistant's
// own reply to the named running agents.
func (a *Assistant) forwardAgentLines(ctx context.Context, reply, replyTo string) {
	names := a.control.Names(ctx)
	for name := range names {
		if name == a.rt.Name() {
			continue
		}
		text, ok := agentInstruction(reply, name)
		if !ok {
			continue
		}
		if err := a.coord.SendNatural(ctx, name, text, replyTo); err != nil {
			a.logger.Info("agent line not forwarded", zap.String("agent", name), zap.Error(err))
		}
	}
}

// agentInstruction finds the first "Name, verb ..." line addressed to name,
// by either its registered or display form.
func agentInstruction(reply, name string) (string, bool) {
	forms := []string{name}
	if display := types.DisplayName(name); display != name {
		forms = append(forms, display)
	}
	for _, form := range forms {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(form) + `\b\s*[,:]\s*(.+?)(?:\n|$|\.(?:\s|$))`)
		for _, m := range re.FindAllStringSubmatch(reply, -1) {
			text := strings.TrimSpace(m[1])
			if len(text) > 5 && verbPattern.MatchString(text) {
				return text, true
			}
		}
	}
	return "", false
}
