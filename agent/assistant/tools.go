package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// Tool names offered to the completion service.
const (
	ToolManageAgents          = "manage_agents"
	ToolSmartAgentOperation   = "smart_agent_operation"
	ToolGetAgentInfo          = "get_agent_info"
	ToolGetRunbookExamples    = "get_runbook_examples"
	ToolCreateAgent           = "create_agent"
	ToolDeleteAgent           = "delete_agent"
	ToolGetActionServers      = "get_action_servers"
	ToolAssignActionServer    = "assign_action_server"
	ToolRemoveActionServer    = "remove_action_server"
	ToolCollaborate           = "collaborate"
	ToolCollaborateWithAgents = "collaborate_with_agents"
)

// silentTools return information for the model rather than for the user;
// their results feed a follow-up completion.
var silentTools = map[string]bool{
	ToolGetAgentInfo:       true,
	ToolGetRunbookExamples: true,
}

var pastTense = map[string]string{"start": "started", "stop": "stopped", "restart": "restarted"}

var toolSchemas = []types.ToolSchema{
	{
		Name:        ToolManageAgents,
		Description: "Start, stop or restart an agent by its exact name.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"action":{"type":"string","enum":["start","stop","restart"]},
			"agent_name":{"type":"string","description":"Exact agent name"}},
			"required":["action","agent_name"]}`),
	},
	{
		Name:        ToolSmartAgentOperation,
		Description: "Start, stop or delete agents described loosely by the user, e.g. 'the writer' or 'all'.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"operation":{"type":"string","enum":["start","stop","delete"]},
			"agent_query":{"type":"string","description":"How the user referred to the agent, or 'all'"}},
			"required":["operation","agent_query"]}`),
	},
	{
		Name:        ToolGetAgentInfo,
		Description: "Get the status, role and capabilities of every agent.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        ToolGetRunbookExamples,
		Description: "Get existing agent runbooks as examples before creating a new agent.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        ToolCreateAgent,
		Description: "Create a new agent with a role and capabilities and start it.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"name":{"type":"string"},
			"role":{"type":"string"},
			"capabilities":{"type":"array","items":{"type":"object","properties":{
				"name":{"type":"string"},"description":{"type":"string"}},"required":["name"]}},
			"action_server":{"type":"string","description":"Optional action server id"}},
			"required":["name","role","capabilities"]}`),
	},
	{
		Name:        ToolDeleteAgent,
		Description: "Delete an agent, optionally removing its runbook.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"agent_name":{"type":"string"},
			"remove_runbook":{"type":"boolean"}},
			"required":["agent_name"]}`),
	},
	{
		Name:        ToolGetActionServers,
		Description: "List the action servers agents can be connected to.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	{
		Name:        ToolAssignActionServer,
		Description: "Connect an agent to an action server so it can execute its actions.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"agent_name":{"type":"string"},
			"action_server":{"type":"string"}},
			"required":["agent_name","action_server"]}`),
	},
	{
		Name:        ToolRemoveActionServer,
		Description: "Disconnect an agent from its action server.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"agent_name":{"type":"string"}},
			"required":["agent_name"]}`),
	},
	{
		Name:        ToolCollaborate,
		Description: "Split a complex task into subtasks, delegate them to suitable agents and combine their results.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"task":{"type":"string"}},
			"required":["task"]}`),
	},
	{
		Name:        ToolCollaborateWithAgents,
		Description: "Send the same task to specific agents and combine their answers.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"task":{"type":"string"},
			"agents":{"type":"array","items":{"type":"string"}}},
			"required":["task","agents"]}`),
	},
}

type manageArgs struct {
	Action    string `json:"action"`
	AgentName string `json:"agent_name"`
}

type smartArgs struct {
	Operation  string `json:"operation"`
	AgentQuery string `json:"agent_query"`
}

type createArgs struct {
	Name         string                `json:"name"`
	Role         string                `json:"role"`
	Capabilities []api.CapabilityInput `json:"capabilities"`
	ActionServer string                `json:"action_server"`
}

type deleteArgs struct {
	AgentName     string `json:"agent_name"`
	RemoveRunbook bool   `json:"remove_runbook"`
}

type assignArgs struct {
	AgentName    string `json:"agent_name"`
	ActionServer string `json:"action_server"`
}

type collaborateArgs struct {
	Task   string   `json:"task"`
	Agents []string `json:"agents"`
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

// callTool executes one tool call and returns the text for the user (or,
// for silent tools, for the model). Tools that report progress themselves
// return "".
func (a *Assistant) callTool(ctx context.Context, call types.ToolCall, replyTo string) string {
	a.logger.Info("tool call", zap.String("tool", call.Name))

	var (
		out string
		err error
	)
	switch call.Name {
	case ToolManageAgents:
		var args manageArgs
		if args, err = decodeArgs[manageArgs](call.Arguments); err == nil {
			out = a.manageAgent(ctx, args.Action, args.AgentName)
		}
	case ToolSmartAgentOperation:
		var args smartArgs
		if args, err = decodeArgs[smartArgs](call.Arguments); err == nil {
			out = a.smartOperation(ctx, args.Operation, args.AgentQuery, replyTo)
		}
	case ToolGetAgentInfo:
		out = a.agentInfo(ctx)
	case ToolGetRunbookExamples:
		out = a.runbookExamples(ctx)
	case ToolCreateAgent:
		var args createArgs
		if args, err = decodeArgs[createArgs](call.Arguments); err == nil {
			out = a.createAgent(ctx, args)
		}
	case ToolDeleteAgent:
		var args deleteArgs
		if args, err = decodeArgs[deleteArgs](call.Arguments); err == nil {
			out = a.deleteAgent(ctx, args)
		}
	case ToolGetActionServers:
		out = a.actionServers(ctx)
	case ToolAssignActionServer:
		var args assignArgs
		if args, err = decodeArgs[assignArgs](call.Arguments); err == nil {
			out = a.assignActionServer(ctx, args)
		}
	case ToolRemoveActionServer:
		var args assignArgs
		if args, err = decodeArgs[assignArgs](call.Arguments); err == nil {
			out = a.removeActionServer(ctx, args.AgentName)
		}
	case ToolCollaborate:
		var args collaborateArgs
		if args, err = decodeArgs[collaborateArgs](call.Arguments); err == nil {
			if cerr := a.coord.Collaborate(ctx, args.Task, replyTo); cerr != nil {
				out = fmt.Sprintf("❌ Collaboration failed: %v", cerr)
			}
		}
	case ToolCollaborateWithAgents:
		var args collaborateArgs
		if args, err = decodeArgs[collaborateArgs](call.Arguments); err == nil {
			if cerr := a.coord.StartSession(ctx, args.Task, args.Agents, replyTo); cerr != nil {
				out = fmt.Sprintf("❌ Collaboration failed: %v", cerr)
			}
		}
	default:
		return fmt.Sprintf("❌ Unknown function '%s'", call.Name)
	}
	if err != nil {
		return fmt.Sprintf("❌ Failed to parse function arguments: %v", err)
	}
	return out
}

// =============================================================================
// Lifecycle
// =============================================================================

func (a *Assistant) manageAgent(ctx context.Context, action, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "❌ Agent name is required."
	}
	done, ok := pastTense[action]
	if !ok {
		return fmt.Sprintf("❌ Invalid action '%s'. Must be 'start', 'stop', or 'restart'.", action)
	}

	var err error
	switch action {
	case "start":
		_, err = a.control.StartAgent(ctx, name)
	case "stop":
		_, err = a.control.StopAgent(ctx, name)
	case "restart":
		if _, serr := a.control.StopAgent(ctx, name); serr != nil && !types.IsErrorCode(serr, types.ErrAgentNotRunning) {
			err = serr
			break
		}
		_, err = a.control.StartAgent(ctx, name)
	}
	if err != nil {
		if action == "start" && types.IsErrorCode(err, types.ErrAgentAlreadyRunning) {
			return fmt.Sprintf("ℹ️ Agent '%s' is already running.", name)
		}
		return fmt.Sprintf("❌ Failed to %s agent '%s': %v", action, name, err)
	}
	return fmt.Sprintf("✅ Agent '%s' %s successfully.", name, done)
}

func (a *Assistant) managedAgents(ctx context.Context) []types.AgentInfo {
	agents, err := a.control.Agents(ctx)
	if err != nil {
		a.logger.Warn("agent lookup failed", zap.Error(err))
		return nil
	}
	out := agents[:0:0]
	for _, ag := range agents {
		if ag.Name != a.rt.Name() {
			out = append(out, ag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// resolveAgent maps a loose reference to a registered agent name: an exact
// match on name or display name first, then the completion service.
func (a *Assistant) resolveAgent(ctx context.Context, query string, agents []types.AgentInfo) (string, bool) {
	q := strings.TrimSpace(query)
	for _, ag := range agents {
		if strings.EqualFold(ag.Name, q) || strings.EqualFold(types.DisplayName(ag.Name), q) || strings.EqualFold(ag.Name, types.NormalizeName(q)) {
			return ag.Name, true
		}
	}
	if a.completer == nil || len(agents) == 0 {
		return "", false
	}

	names := agentNames(agents)
	prompt := fmt.Sprintf("Available agents: %s\n\nThe user referred to an agent as: '%s'\n\nRespond with only the exact name of the agent they mean, or NONE if no agent matches.",
		strings.Join(names, ", "), q)
	out, ok := a.completer.Complete(ctx, []types.Message{types.NewUserMessage(prompt)},
		llm.WithTemperature(0.1), llm.WithMaxTokens(50))
	if !ok {
		return "", false
	}
	choice := strings.Trim(strings.TrimSpace(out), "`\"'.")
	for _, n := range names {
		if strings.EqualFold(n, choice) {
			return n, true
		}
	}
	return "", false
}

func agentNames(agents []types.AgentInfo) []string {
	names := make([]string, 0, len(agents))
	for _, ag := range agents {
		names = append(names, ag.Name)
	}
	return names
}

func (a *Assistant) smartOperation(ctx context.Context, op, query, replyTo string) string {
	if op != "start" && op != "stop" && op != "delete" {
		return fmt.Sprintf("❌ Invalid operation '%s'. Must be 'start', 'stop', or 'delete'.", op)
	}
	agents := a.managedAgents(ctx)

	var targets []string
	prefix := ""
	if strings.EqualFold(strings.TrimSpace(query), "all") && op != "delete" {
		targets = agentNames(agents)
	} else {
		name, ok := a.resolveAgent(ctx, query, agents)
		if !ok {
			return fmt.Sprintf("❌ No agent found matching '%s'. Available agents: %s", query, strings.Join(agentNames(agents), ", "))
		}
		if !strings.EqualFold(name, strings.TrimSpace(query)) {
			prefix = fmt.Sprintf("🔍 Resolved '%s' to '%s'\n", query, name)
		}
		targets = []string{name}
	}

	if op == "delete" {
		name := targets[0]
		if _, _, err := a.control.DeleteAgent(ctx, api.DeleteAgentRequest{Name: name, RemoveRunbook: true}); err != nil {
			return prefix + fmt.Sprintf("❌ Failed to delete agent '%s': %v", name, err)
		}
		return prefix + fmt.Sprintf("✅ Agent '%s' deleted successfully (including runbook).", name)
	}
	return prefix + a.manageMany(ctx, op, targets, agents, replyTo)
}

// manageMany starts or stops several agents, reporting progress to replyTo
// as it goes, and returns the summary line.
func (a *Assistant) manageMany(ctx context.Context, op string, names []string, agents []types.AgentInfo, replyTo string) string {
	byName := make(map[string]types.AgentInfo, len(agents))
	for _, ag := range agents {
		byName[ag.Name] = ag
	}

	var pending []string
	for _, n := range names {
		ag, ok := byName[n]
		if !ok {
			a.send(ctx, replyTo, fmt.Sprintf("❌ Agent '%s' not found or not available for management.", n))
			continue
		}
		if (op == "start") != ag.IsRunning() {
			pending = append(pending, n)
		}
	}
	if len(pending) == 0 {
		state := "running"
		if op == "stop" {
			state = "stopped"
		}
		return fmt.Sprintf("ℹ️ All target agents are already %s.", state)
	}

	verb := titleWord(op)
	a.send(ctx, replyTo, fmt.Sprintf("🚀 %sing %d agent(s): %s", stem(verb), len(pending), strings.Join(pending, ", ")))
	ok := 0
	for _, n := range pending {
		a.send(ctx, replyTo, fmt.Sprintf("⚙️ %sing %s...", stem(verb), n))
		var err error
		if op == "start" {
			_, err = a.control.StartAgent(ctx, n)
		} else {
			_, err = a.control.StopAgent(ctx, n)
		}
		if err != nil {
			a.send(ctx, replyTo, fmt.Sprintf("❌ Failed to %s %s", op, n))
			continue
		}
		ok++
		a.send(ctx, replyTo, fmt.Sprintf("✅ %s %s successfully", n, pastTense[op]))
	}
	return fmt.Sprintf("📊 %s complete: %d/%d agents successful", verb, ok, len(pending))
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// stem doubles the final consonant of "Stop" so "-ing" reads "Stopping".
func stem(verb string) string {
	if verb == "Stop" {
		return "Stopp"
	}
	return verb
}

func (a *Assistant) createAgent(ctx context.Context, args createArgs) string {
	if strings.TrimSpace(args.Name) == "" || strings.TrimSpace(args.Role) == "" {
		return "❌ Agent name and role are required."
	}
	if len(args.Capabilities) == 0 {
		return "❌ At least one capability is required."
	}
	name := types.NormalizeName(args.Name)
	_, err := a.control.CreateAgent(ctx, api.CreateAgentRequest{
		Name:         name,
		Role:         args.Role,
		Capabilities: args.Capabilities,
		ActionServer: args.ActionServer,
	})
	if err != nil {
		return fmt.Sprintf("❌ Failed to create agent '%s': %v", name, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Successfully created agent '%s' and started it!\n\nThe agent has been configured with the following capabilities:", name)
	for _, c := range args.Capabilities {
		b.WriteString("\n• ")
		b.WriteString(c.Name)
		if c.Description != "" {
			b.WriteString(": ")
			b.WriteString(c.Description)
		}
	}
	if args.ActionServer != "" {
		fmt.Fprintf(&b, "\n\n🔧 Tools assigned: %s", args.ActionServer)
	}
	return b.String()
}

func (a *Assistant) deleteAgent(ctx context.Context, args deleteArgs) string {
	name := strings.TrimSpace(args.AgentName)
	if name == "" {
		return "❌ Agent name is required."
	}
	_, res, err := a.control.DeleteAgent(ctx, api.DeleteAgentRequest{Name: name, RemoveRunbook: args.RemoveRunbook})
	if err != nil {
		return fmt.Sprintf("❌ Failed to delete agent '%s': %v", name, err)
	}
	if res != nil && res.RunbookRemoved {
		return fmt.Sprintf("✅ Successfully deleted agent '%s' and removed its runbook.", name)
	}
	return fmt.Sprintf("✅ Successfully deleted agent '%s' (runbook preserved).", name)
}

// =============================================================================
// Information
// =============================================================================

func (a *Assistant) agentInfo(ctx context.Context) string {
	agents := a.managedAgents(ctx)
	caps := map[string][]string{}
	if rbs, err := a.control.Runbooks(ctx); err == nil {
		for _, rb := range rbs {
			caps[rb.AgentName] = rb.CapabilityNames()
		}
	}

	var running, stopped []types.AgentInfo
	for _, ag := range agents {
		if ag.IsRunning() {
			running = append(running, ag)
		} else {
			stopped = append(stopped, ag)
		}
	}

	line := func(b *strings.Builder, ag types.AgentInfo) {
		c := caps[ag.Name]
		if len(c) > 3 {
			c = c[:3]
		}
		fmt.Fprintf(b, "  • **%s**: %s", ag.Name, ag.Role)
		if len(c) > 0 {
			fmt.Fprintf(b, " - %s", strings.Join(c, ", "))
		}
		b.WriteString("\n")
	}

	var b strings.Builder
	b.WriteString("📊 **Agent Status Overview:**\n\n")
	fmt.Fprintf(&b, "🟢 **Running Agents (%d):**\n", len(running))
	for _, ag := range running {
		line(&b, ag)
	}
	fmt.Fprintf(&b, "\n⚪ **Stopped Agents (%d):**\n", len(stopped))
	for _, ag := range stopped {
		line(&b, ag)
	}
	fmt.Fprintf(&b, "\n📈 **Total agents:** %d", len(agents))
	return b.String()
}

func (a *Assistant) runbookExamples(ctx context.Context) string {
	rbs, err := a.control.Runbooks(ctx)
	if err != nil || len(rbs) == 0 {
		return "📚 No existing runbooks found"
	}
	var b strings.Builder
	b.WriteString("📚 **Existing Agent Runbook Examples:**\n")
	n := 0
	for _, rb := range rbs {
		if rb.AgentName == a.rt.Name() {
			continue
		}
		fmt.Fprintf(&b, "\n**%s** (%s)\nRole: %s\nCapabilities:\n%s\n", rb.AgentName, rb.JobTitle, rb.Role, rb.CapabilityText())
		if n++; n == 3 {
			break
		}
	}
	if n == 0 {
		return "📚 No existing runbooks found"
	}
	return b.String()
}

// =============================================================================
// Action servers
// =============================================================================

func (a *Assistant) actionServers(ctx context.Context) string {
	servers, err := a.control.ActionServers(ctx)
	if err != nil {
		return fmt.Sprintf("❌ Failed to list action servers: %v", err)
	}
	if len(servers) == 0 {
		return "ℹ️ No action servers are currently configured."
	}
	var b strings.Builder
	b.WriteString("Available MCP Action Servers:\n\n")
	for _, s := range servers {
		fmt.Fprintf(&b, "• **%s** - %s\n", s.ID, s.Description)
		if s.Type != "" {
			fmt.Fprintf(&b, "  Type: %s\n", s.Type)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *Assistant) assignActionServer(ctx context.Context, args assignArgs) string {
	if args.AgentName == "" || args.ActionServer == "" {
		return "❌ Both agent_name and action_server are required."
	}
	msg, res, err := a.control.AssignActionServer(ctx, args.AgentName, args.ActionServer)
	if err != nil {
		return fmt.Sprintf("❌ Failed to assign action server: %v", err)
	}
	out := "✅ " + msg
	if res != nil && res.AgentRestarted {
		out += "\n🔄 Agent restarted - tools are now active!"
	}
	return out
}

func (a *Assistant) removeActionServer(ctx context.Context, agent string) string {
	if agent == "" {
		return "❌ Agent name is required."
	}
	msg, err := a.control.RemoveActionServer(ctx, agent)
	if err != nil {
		return fmt.Sprintf("❌ Failed to remove action server: %v", err)
	}
	return "✅ " + msg
}
