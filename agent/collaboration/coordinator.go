package collaboration

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent/decompose"
	"github.com/BaSui01/agentmesh/agent/discovery"
	"github.com/BaSui01/agentmesh/agent/protocol"
	"github.com/BaSui01/agentmesh/llm"
	"github.com/BaSui01/agentmesh/types"
)

// SynthesisFailedText is sent when several results arrived but the
// completion service could not combine them.
const SynthesisFailedText = "I received responses from multiple agents but couldn't synthesize them properly."

// Sender publishes on behalf of the coordinating agent. *bus.Messenger
// implements it.
type Sender interface {
	SendText(ctx context.Context, topic, text string) error
	SendToAgent(ctx context.Context, agent string, msg protocol.Message) error
}

// Directory answers which peers exist and can start stopped ones.
// *discovery.Client implements it.
type Directory interface {
	Peers(ctx context.Context) ([]discovery.Peer, error)
	StartAgent(ctx context.Context, name string) (string, error)
	Invalidate()
}

type plan struct {
	id        string
	started   time.Time
	total     int
	userTopic string
	// delivered is the number of subtasks that reached a peer; zero until
	// delegation finishes.
	delivered int
}

// step is deferred I/O computed while holding the coordinator lock.
type step func(ctx context.Context)

// Coordinator delegates work to peers and turns their results into answers
// for the user. Correlation state is guarded by one mutex; bus sends and
// completion calls happen outside it.
type Coordinator struct {
	name       string
	inbox      string
	cfg        Config
	sender     Sender
	dir        Directory
	decomposer *decompose.Decomposer
	synth      *Synthesizer
	history    *History
	observer   Observer
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	startedAt  time.Time

	mu       sync.Mutex
	next     int
	sessions *Sessions
	index    *Index
	plans    map[string]plan
}

// NewCoordinator creates the coordinator for the agent called name.
func NewCoordinator(name string, cfg Config, sender Sender, dir Directory, completer llm.Completer, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 || cfg.HistoryTurns <= 0 || cfg.DefaultUserTopic == "" {
		def := DefaultConfig()
		if cfg.Timeout <= 0 {
			cfg.Timeout = def.Timeout
		}
		if cfg.HistoryTurns <= 0 {
			cfg.HistoryTurns = def.HistoryTurns
		}
		if cfg.DefaultUserTopic == "" {
			cfg.DefaultUserTopic = def.DefaultUserTopic
		}
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = 10 * cfg.Timeout
	}
	return &Coordinator{
		name:       name,
		inbox:      protocol.InboxTopic(name),
		cfg:        cfg,
		sender:     sender,
		dir:        dir,
		decomposer: decompose.New(completer, logger),
		synth:      NewSynthesizer(completer, logger),
		history:    NewHistory(cfg.HistoryTurns),
		logger:     logger.With(zap.String("component", "coordinator")),
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
		startedAt:  time.Now(),
		sessions:   NewSessions(),
		index:      NewIndex(),
		plans:      make(map[string]plan),
	}
}

// SetObserver installs an outcome observer.
func (c *Coordinator) SetObserver(o Observer) {
	c.observer = o
}

// History returns the per-peer conversation history.
func (c *Coordinator) History() *History {
	return c.history
}

// StartedAt is the instant messages older than which are stale.
func (c *Coordinator) StartedAt() time.Time {
	return c.startedAt
}

// ActiveSessions returns the number of live ad-hoc sessions.
func (c *Coordinator) ActiveSessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Len()
}

// PendingResults returns the number of stored subtask results.
func (c *Coordinator) PendingResults() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// =============================================================================
// Delegation
// =============================================================================

// Delegate sends one subtask to agent. Results come back to this
// coordinator's inbox; userTopic travels along for the final answer.
func (c *Coordinator) Delegate(ctx context.Context, agent string, task protocol.TaskPayload, userTopic string) error {
	ctx, span := c.tracer.Start(ctx, "collaboration.delegate",
		trace.WithAttributes(
			attribute.String("agent.name", agent),
			attribute.Int("collaboration.subtask_index", task.SubtaskIndex),
			attribute.Int("collaboration.total_subtasks", task.TotalSubtasks),
		))
	defer span.End()

	msg := &protocol.Delegation{
		FromAgent: c.name,
		Task:      task,
		ReplyTo:   c.inbox,
		UserTopic: userTopic,
		Timestamp: protocol.FromTime(c.now()),
	}
	if err := c.sender.SendToAgent(ctx, agent, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delegate to %s: %w", agent, err)
	}
	c.logger.Debug("delegated",
		zap.String("agent", agent),
		zap.Int("index", task.SubtaskIndex),
		zap.Int("total", task.TotalSubtasks))
	return nil
}

// pick chooses a target for a subtask. Agents whose name or capability tag
// equals agentType are preferred; the round-robin cursor is shared by all
// picks. Caller holds c.mu.
func (c *Coordinator) pick(peers []discovery.Peer, agentType string) (string, bool) {
	if len(peers) == 0 {
		return "", false
	}
	candidates := peers
	if tag := types.NormalizeName(agentType); tag != "" {
		var matched []discovery.Peer
		for _, p := range peers {
			if matchesTag(p, tag) {
				matched = append(matched, p)
			}
		}
		if len(matched) > 0 {
			candidates = matched
		}
	}
	p := candidates[c.next%len(candidates)]
	c.next = (c.next + 1) % len(peers)
	return p.Name, true
}

func matchesTag(p discovery.Peer, tag string) bool {
	if strings.EqualFold(p.Name, tag) {
		return true
	}
	for _, capability := range p.Capabilities {
		if capability.Tag() == tag {
			return true
		}
	}
	return false
}

// Collaborate decomposes task, delegates every subtask and returns once they
// are sent. The answer reaches userTopic once every delivered subtask has
// answered.
func (c *Coordinator) Collaborate(ctx context.Context, task, userTopic string) error {
	id := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "collaboration.collaborate",
		trace.WithAttributes(attribute.String("collaboration.id", id)))
	defer span.End()

	c.notify(ctx, userTopic, "🤖 Analyzing your request...")

	peers, err := c.readyPeers(ctx, userTopic)
	if err != nil || len(peers) == 0 {
		c.notify(ctx, userTopic, "❌ No agents available for collaboration.")
		if err == nil {
			err = types.NewError(types.ErrAgentNotFound, "no agents available for collaboration")
		}
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	agents := make([]decompose.Agent, 0, len(peers))
	names := make([]string, 0, len(peers))
	for _, p := range peers {
		agents = append(agents, decompose.Agent{Name: p.Name, Capabilities: p.Capabilities})
		names = append(names, p.Name)
	}
	subtasks := c.decomposer.Decompose(ctx, task, agents)
	span.SetAttributes(attribute.Int("collaboration.subtasks", len(subtasks)))

	c.notify(ctx, userTopic, fmt.Sprintf("🚀 **Collaboration Started** - Found %d agents (%s) and broke down into %d tasks",
		len(peers), strings.Join(names, ", "), len(subtasks)))

	type assignment struct {
		agent   string
		payload protocol.TaskPayload
	}
	assignments := make([]assignment, len(subtasks))

	c.mu.Lock()
	c.index.Reopen(task)
	c.plans[task] = plan{id: id, started: c.now(), total: len(subtasks), userTopic: userTopic}
	for i, st := range subtasks {
		st.CollaborationID = id
		agent, _ := c.pick(peers, st.AgentType)
		c.logger.Debug("subtask assigned",
			zap.String("collaboration_id", st.CollaborationID),
			zap.Int("index", i),
			zap.String("agent", agent))
		assignments[i] = assignment{
			agent: agent,
			payload: protocol.TaskPayload{
				Task:          st.Task,
				AgentType:     st.AgentType,
				Priority:      st.Priority,
				Dependencies:  st.Dependencies,
				SubtaskIndex:  i,
				TotalSubtasks: len(subtasks),
				OriginalQuery: task,
			},
		}
	}
	c.mu.Unlock()

	lines := make([]string, 0, len(assignments))
	delivered := 0
	for _, a := range assignments {
		preview := preview(a.payload.Task, 50)
		if a.agent == "" {
			lines = append(lines, "⚠️ No agent found • "+preview)
			continue
		}
		if err := c.Delegate(ctx, a.agent, a.payload, userTopic); err != nil {
			c.logger.Warn("delegation failed", zap.String("agent", a.agent), zap.Error(err))
			lines = append(lines, fmt.Sprintf("❌ **%s** unreachable • %s", a.agent, preview))
			continue
		}
		delivered++
		agentType := a.payload.AgentType
		if agentType == "" {
			agentType = "general"
		}
		lines = append(lines, fmt.Sprintf("**%s** (%s) • %s", a.agent, agentType, preview))
	}

	c.notify(ctx, userTopic, fmt.Sprintf("🔄 **Delegating %d Tasks to Agents:**\n", len(subtasks))+strings.Join(lines, "\n"))

	if delivered == 0 {
		c.mu.Lock()
		delete(c.plans, task)
		c.mu.Unlock()
		c.notify(ctx, userTopic, fmt.Sprintf("❌ None of the %d tasks could be delegated.", len(subtasks)))
		c.observe(ModeDecomposed, OutcomeEmpty, 0)
		return types.NewError(types.ErrBusUnavailable, "no subtask could be delegated")
	}
	if delivered == len(subtasks) {
		c.notify(ctx, userTopic, fmt.Sprintf("📤 All %d tasks delegated! Agents are now working...", len(subtasks)))
	} else {
		c.notify(ctx, userTopic, fmt.Sprintf("📤 %d of %d tasks delegated! Agents are now working...", delivered, len(subtasks)))
	}

	// 只等待已送达的子任务；送达期间可能已全部返回
	c.mu.Lock()
	var steps []step
	if p, ok := c.plans[task]; ok && p.id == id {
		p.delivered = delivered
		c.plans[task] = p
		steps = c.completeIndexedLocked(task, delivered, c.now())
	}
	c.mu.Unlock()
	for _, s := range steps {
		s(ctx)
	}
	return nil
}

// readyPeers lists peers and starts the stopped ones, reporting progress to
// userTopic. Only peers that are running afterwards are returned.
func (c *Coordinator) readyPeers(ctx context.Context, userTopic string) ([]discovery.Peer, error) {
	peers, err := c.dir.Peers(ctx)
	if err != nil {
		c.logger.Warn("agent discovery failed", zap.Error(err))
		return nil, err
	}

	var stopped []string
	for _, p := range peers {
		if !p.Running {
			stopped = append(stopped, p.Name)
		}
	}
	if len(stopped) > 0 {
		c.notify(ctx, userTopic, fmt.Sprintf("🚀 Starting %d agent(s) needed for this task: %s", len(stopped), strings.Join(stopped, ", ")))
		for _, name := range stopped {
			c.notify(ctx, userTopic, fmt.Sprintf("⚙️ Starting %s...", name))
			if _, err := c.dir.StartAgent(ctx, name); err != nil {
				c.logger.Warn("start agent failed", zap.String("agent", name), zap.Error(err))
				c.notify(ctx, userTopic, fmt.Sprintf("❌ Failed to start %s", name))
				continue
			}
			c.notify(ctx, userTopic, fmt.Sprintf("✅ %s started successfully", name))
			for i := range peers {
				if peers[i].Name == name {
					peers[i].Running = true
				}
			}
		}
		c.dir.Invalidate()
	}

	running := peers[:0]
	for _, p := range peers {
		if p.Running {
			running = append(running, p)
		}
	}
	return running, nil
}

// StartSession sends task unchanged to each named agent and tracks their
// answers as one ad-hoc collaboration.
func (c *Coordinator) StartSession(ctx context.Context, task string, agents []string, userTopic string) error {
	peers, err := c.dir.Peers(ctx)
	if err != nil || len(peers) == 0 {
		c.notify(ctx, userTopic, "❌ Unable to discover agents for collaboration.")
		if err == nil {
			err = types.NewError(types.ErrAgentNotFound, "no agents discovered")
		}
		return err
	}

	var available []discovery.Peer
	var unavailable []string
	for _, name := range agents {
		p, ok := findPeer(peers, name)
		if ok && p.Running {
			available = append(available, p)
		} else {
			unavailable = append(unavailable, name)
		}
	}
	if len(unavailable) > 0 {
		c.notify(ctx, userTopic, "⚠️ The following agents are not available: "+strings.Join(unavailable, ", "))
	}
	if len(available) == 0 {
		c.notify(ctx, userTopic, "❌ No requested agents are currently available for collaboration.")
		return types.NewError(types.ErrAgentNotRunning, "no requested agent is running")
	}

	names := make([]string, 0, len(available))
	for _, p := range available {
		names = append(names, p.Name)
	}
	c.notify(ctx, userTopic, fmt.Sprintf("🤝 Starting collaboration with %d agent(s): %s", len(available), strings.Join(names, ", ")))

	var expected []string
	for _, p := range available {
		c.notify(ctx, userTopic, fmt.Sprintf("📤 Sending task to %s...", p.Name))
		payload := protocol.TaskPayload{
			Task:          task,
			AgentType:     decompose.Agent{Name: p.Name, Capabilities: p.Capabilities}.PrimaryCapability(),
			Priority:      5,
			SubtaskIndex:  0,
			TotalSubtasks: 1,
			OriginalQuery: task,
		}
		if err := c.Delegate(ctx, p.Name, payload, userTopic); err != nil {
			c.logger.Warn("delegation failed", zap.String("agent", p.Name), zap.Error(err))
			continue
		}
		expected = append(expected, p.Name)
	}
	if len(expected) == 0 {
		c.notify(ctx, userTopic, "❌ No requested agents are currently available for collaboration.")
		return types.NewError(types.ErrBusUnavailable, "task could not be sent to any agent")
	}
	c.notify(ctx, userTopic, "📤 All tasks sent! Waiting for agent responses...")

	s := &Session{
		Key:       SessionKey(task, userTopic),
		Task:      task,
		UserTopic: userTopic,
		Expected:  expected,
		StartedAt: c.now(),
		Timeout:   c.cfg.Timeout,
	}
	c.mu.Lock()
	c.index.Reopen(task)
	replaced := c.sessions.Open(s)
	c.mu.Unlock()
	if replaced {
		c.logger.Info("ad-hoc session restarted", zap.String("key", s.Key))
	}
	return nil
}

func findPeer(peers []discovery.Peer, name string) (discovery.Peer, bool) {
	for _, p := range peers {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return discovery.Peer{}, false
}

// IsRunning reports whether the named peer is currently running.
func (c *Coordinator) IsRunning(ctx context.Context, name string) bool {
	peers, err := c.dir.Peers(ctx)
	if err != nil {
		return false
	}
	p, ok := findPeer(peers, name)
	return ok && p.Running
}

// SendNatural sends text to agent as a natural conversation that carries the
// whole history with that agent. The reply is forwarded to userTopic.
func (c *Coordinator) SendNatural(ctx context.Context, agent, text, userTopic string) error {
	if !c.IsRunning(ctx, agent) {
		return types.NewError(types.ErrAgentNotRunning, fmt.Sprintf("agent '%s' is not running", agent))
	}
	c.history.Append(agent, types.NewUserMessage(text))
	msg := &protocol.NaturalMessage{
		FromAgent:         c.name,
		Messages:          c.history.All(agent),
		Context:           protocol.ContextCoordination,
		Timestamp:         protocol.FromTime(c.now()),
		ReplyTo:           c.inbox,
		OriginalUserTopic: userTopic,
	}
	if err := c.sender.SendToAgent(ctx, agent, msg); err != nil {
		c.history.DropLast(agent)
		return err
	}
	return nil
}

// =============================================================================
// Correlation
// =============================================================================

// HandleResult correlates a TaskResult with the ad-hoc session it answers,
// or with the decomposed collaboration it belongs to, then sweeps timeouts.
func (c *Coordinator) HandleResult(ctx context.Context, r *protocol.TaskResult) {
	userTopic := r.UserTopic
	if userTopic == "" {
		userTopic = c.cfg.DefaultUserTopic
	}
	resp := Response{Agent: r.FromAgent, Result: r.TaskResult, Task: r.OriginalTask}
	now := c.now()

	c.mu.Lock()
	var steps []step
	key := SessionKey(r.OriginalTask.Task, userTopic)
	if _, ok := c.sessions.Get(key); ok {
		steps = c.recordSessionLocked(key, resp, now)
	} else {
		steps = c.recordIndexedLocked(resp, userTopic, now)
	}
	steps = append(steps, c.sweepLocked(now)...)
	c.mu.Unlock()

	for _, s := range steps {
		s(ctx)
	}
}

// HandleNaturalResponse records a peer's conversational reply and forwards
// it to the user. It reports whether the reply was forwarded.
func (c *Coordinator) HandleNaturalResponse(ctx context.Context, r *protocol.NaturalResponse) bool {
	defer c.Sweep(ctx)

	if r.Timestamp > 0 && protocol.ToTime(r.Timestamp).Before(c.startedAt) {
		c.logger.Debug("ignoring stale response", zap.String("from", r.FromAgent))
		return false
	}
	topic := r.OriginalUserTopic
	if topic == "" && protocol.IsUserTopic(r.ReplyTo) {
		topic = r.ReplyTo
	}
	if topic == "" {
		c.logger.Warn("natural response without user topic", zap.String("from", r.FromAgent))
		return false
	}
	if r.FromAgent != "" && r.Response != "" {
		c.history.Append(r.FromAgent, types.NewAssistantMessage(r.Response))
	}
	c.notify(ctx, topic, fmt.Sprintf("%s: %s", types.DisplayName(r.FromAgent), r.Response))
	return true
}

// Sweep force-completes every collaboration past its timeout.
func (c *Coordinator) Sweep(ctx context.Context) {
	c.mu.Lock()
	steps := c.sweepLocked(c.now())
	c.mu.Unlock()
	for _, s := range steps {
		s(ctx)
	}
}

func (c *Coordinator) recordSessionLocked(key string, resp Response, now time.Time) []step {
	s, verdict := c.sessions.Record(key, resp)
	switch verdict {
	case VerdictUnexpected:
		c.logger.Info("ignoring result from agent outside the session",
			zap.String("key", key), zap.String("from", resp.Agent))
		return nil
	case VerdictRepeat:
		c.logger.Debug("repeat result ignored", zap.String("key", key), zap.String("from", resp.Agent))
		return nil
	case VerdictWaiting:
		text := "⏳ Still waiting for: " + strings.Join(s.Missing(), ", ")
		topic := s.UserTopic
		return []step{func(ctx context.Context) { c.notify(ctx, topic, text) }}
	case VerdictComplete:
		// late answers for this task must not start an indexed collaboration
		c.index.Purge(QueryOf(resp.Task), now)
		return []step{func(ctx context.Context) { c.finishSession(ctx, s) }}
	default:
		return nil
	}
}

func (c *Coordinator) recordIndexedLocked(resp Response, userTopic string, now time.Time) []step {
	query := QueryOf(resp.Task)
	if c.index.Finished(query) {
		c.logger.Debug("late result for finished collaboration",
			zap.String("from", resp.Agent), zap.Int("index", resp.Task.SubtaskIndex))
		return nil
	}

	first, conflict := c.index.Add(Entry{Agent: resp.Agent, Result: resp.Result, Task: resp.Task, UserTopic: userTopic})
	if conflict {
		if first.Agent != resp.Agent {
			c.logger.Warn("subtask already answered, keeping first result",
				zap.String("task", resp.Task.Task),
				zap.Int("index", resp.Task.SubtaskIndex),
				zap.String("kept", first.Agent),
				zap.String("ignored", resp.Agent))
		}
		return nil
	}

	var steps []step
	total := resp.Task.TotalSubtasks
	if total < 1 {
		total = 1
	}
	if total > 1 {
		text := fmt.Sprintf("✅ %s completed their task", types.DisplayName(resp.Agent))
		steps = append(steps, func(ctx context.Context) { c.notify(ctx, userTopic, text) })
	}
	if p, ok := c.plans[query]; ok && p.delivered > 0 {
		total = p.delivered
	}
	return append(steps, c.completeIndexedLocked(query, total, now)...)
}

// completeIndexedLocked finishes the collaboration for query once need
// results are indexed.
func (c *Coordinator) completeIndexedLocked(query string, need int, now time.Time) []step {
	if c.index.Finished(query) || c.index.Found(query) < need {
		return nil
	}

	entries := c.index.Collect(query)
	c.index.Purge(query, now)
	started := now
	if p, ok := c.plans[query]; ok {
		started = p.started
		delete(c.plans, query)
	}
	return []step{func(ctx context.Context) { c.finishIndexed(ctx, query, entries, started) }}
}

func (c *Coordinator) sweepLocked(now time.Time) []step {
	var steps []step
	for _, s := range c.sessions.Sweep(now) {
		s := s
		c.index.Purge(s.Task, now)
		steps = append(steps, func(ctx context.Context) { c.expireSession(ctx, s) })
	}

	var expired []string
	for q, p := range c.plans {
		if now.Sub(p.started) > c.cfg.PlanTimeout {
			expired = append(expired, q)
		}
	}
	sort.Strings(expired)
	for _, q := range expired {
		p := c.plans[q]
		entries := c.index.Collect(q)
		c.index.Purge(q, now)
		delete(c.plans, q)
		q := q
		steps = append(steps, func(ctx context.Context) { c.expirePlan(ctx, q, p, entries) })
	}
	c.index.Forget(now, c.cfg.PlanTimeout)
	return steps
}

// =============================================================================
// Terminal outcomes
// =============================================================================

func (c *Coordinator) finishSession(ctx context.Context, s *Session) {
	for _, r := range s.Received {
		c.notify(ctx, s.UserTopic, fmt.Sprintf("**%s:**\n\n%s", types.DisplayName(r.Agent), r.Result))
	}
	c.notify(ctx, s.UserTopic, "✅ Received responses from: "+strings.Join(s.Responders(), ", "))
	c.notify(ctx, s.UserTopic, "📋 Collaboration complete!")
	if len(s.Received) > 1 {
		c.synthesizeSession(ctx, s)
	}
	c.observe(ModeAdHoc, OutcomeComplete, c.now().Sub(s.StartedAt).Seconds())
}

func (c *Coordinator) expireSession(ctx context.Context, s *Session) {
	n := len(s.Received)
	c.logger.Info("ad-hoc session timed out",
		zap.String("key", s.Key), zap.Int("received", n), zap.Strings("missing", s.Missing()))
	switch {
	case n == 0:
		c.notify(ctx, s.UserTopic, "⏰ Collaboration timed out with no responses received.")
		c.observe(ModeAdHoc, OutcomeEmpty, c.now().Sub(s.StartedAt).Seconds())
		return
	case n == 1:
		c.notify(ctx, s.UserTopic, timedOutNotice(n))
		r := s.Received[0]
		c.notify(ctx, s.UserTopic, fmt.Sprintf("📋 **Response from %s:**\n\n%s", types.DisplayName(r.Agent), r.Result))
	default:
		c.notify(ctx, s.UserTopic, timedOutNotice(n))
		c.synthesizeSession(ctx, s)
	}
	c.observe(ModeAdHoc, OutcomeTimeout, c.now().Sub(s.StartedAt).Seconds())
}

func (c *Coordinator) synthesizeSession(ctx context.Context, s *Session) {
	c.notify(ctx, s.UserTopic, fmt.Sprintf("🧠 Synthesizing %d agent responses...", len(s.Received)))
	parts := make([]Contribution, 0, len(s.Received))
	for _, r := range s.Received {
		parts = append(parts, Contribution{Agent: r.Agent, Result: r.Result})
	}
	text, ok := c.synth.Combine(ctx, ModeAdHoc, s.Task, parts)
	if !ok {
		c.notify(ctx, s.UserTopic, SynthesisFailedText)
		return
	}
	c.notify(ctx, s.UserTopic, "🎯 **Final Answer:**\n\n"+FormatSentences(text))
}

func (c *Coordinator) finishIndexed(ctx context.Context, query string, entries []Entry, started time.Time) {
	if len(entries) == 0 {
		c.logger.Debug("no results to synthesize", zap.String("query", query))
		return
	}
	topic := entries[0].UserTopic
	elapsed := c.now().Sub(started).Seconds()

	if len(entries) == 1 {
		c.notify(ctx, topic, entries[0].Result)
		c.observe(ModeDecomposed, OutcomeComplete, elapsed)
		return
	}

	agents := distinctAgents(entries)
	c.notify(ctx, topic, fmt.Sprintf("🎯 All agents completed! 🧠 Synthesizing %d agent responses into final answer...", agents))
	text, ok := c.synth.Combine(ctx, ModeDecomposed, query, contributions(entries))
	if !ok {
		c.notify(ctx, topic, SynthesisFailedText)
	} else {
		c.notify(ctx, topic, FormatSentences(text))
		c.notify(ctx, topic, fmt.Sprintf("🎉 **Complete!** %d agents collaborated successfully.", agents))
	}
	c.observe(ModeDecomposed, OutcomeComplete, elapsed)
}

func (c *Coordinator) expirePlan(ctx context.Context, query string, p plan, entries []Entry) {
	elapsed := c.now().Sub(p.started).Seconds()
	c.logger.Info("decomposed collaboration timed out",
		zap.String("collaboration_id", p.id), zap.Int("received", len(entries)), zap.Int("total", p.total))
	switch len(entries) {
	case 0:
		c.notify(ctx, p.userTopic, "⏰ Collaboration timed out with no responses received.")
		c.observe(ModeDecomposed, OutcomeEmpty, elapsed)
		return
	case 1:
		c.notify(ctx, p.userTopic, timedOutNotice(1))
		c.notify(ctx, p.userTopic, fmt.Sprintf("📋 **Response from %s:**\n\n%s", types.DisplayName(entries[0].Agent), entries[0].Result))
	default:
		c.notify(ctx, p.userTopic, timedOutNotice(len(entries)))
		text, ok := c.synth.Combine(ctx, ModeDecomposed, query, contributions(entries))
		if ok {
			c.notify(ctx, p.userTopic, "🎯 **Final Answer:**\n\n"+FormatSentences(text))
		} else {
			c.notify(ctx, p.userTopic, SynthesisFailedText)
		}
	}
	c.observe(ModeDecomposed, OutcomeTimeout, elapsed)
}

func timedOutNotice(n int) string {
	plural := ""
	if n > 1 {
		plural = "s"
	}
	return fmt.Sprintf("⏰ Collaboration timed out! Processing %d received response%s...", n, plural)
}

func contributions(entries []Entry) []Contribution {
	out := make([]Contribution, 0, len(entries))
	for _, e := range entries {
		out = append(out, Contribution{Agent: e.Agent, Result: e.Result})
	}
	return out
}

func distinctAgents(entries []Entry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Agent] = struct{}{}
	}
	return len(seen)
}

func (c *Coordinator) notify(ctx context.Context, topic, text string) {
	if err := c.sender.SendText(ctx, topic, text); err != nil {
		c.logger.Warn("user notice not delivered", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Coordinator) observe(mode, outcome string, seconds float64) {
	if c.observer != nil {
		c.observer.ObserveCollaboration(mode, outcome, seconds)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
