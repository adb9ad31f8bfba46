// Package discovery is an agent process's view of the control plane: who else
// exists, who is running, what they can do, and the lifecycle and action
// calls an agent may make on the orchestrator.
//
// Agent and runbook listings are cached for a TTL. Concurrent refreshes are
// coalesced so a burst of lookups costs one round trip; Invalidate drops the
// cache explicitly and every mutating call does so implicitly.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/agentmesh/agent/mention"
	"github.com/BaSui01/agentmesh/agent/runbook"
	"github.com/BaSui01/agentmesh/api"
	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/types"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Self is excluded from Peers.
	Self    string
	TTL     time.Duration
	Timeout time.Duration
	// HTTPClient replaces the hardened default client when set.
	HTTPClient *http.Client
}

// ConfigFrom derives a Config from mesh settings.
func ConfigFrom(mesh config.MeshConfig, self string) Config {
	return Config{
		BaseURL: mesh.OrchestratorURL,
		Self:    self,
		TTL:     mesh.DiscoveryTTL,
		Timeout: 30 * time.Second,
	}
}

// Peer is one agent as seen by another: its runbook joined with its
// registry record.
type Peer struct {
	Name         string             `json:"name"`
	Role         string             `json:"role"`
	JobTitle     string             `json:"job_title"`
	Capabilities []types.Capability `json:"capabilities"`
	Running      bool               `json:"running"`
	Actions      []types.Action     `json:"actions,omitempty"`
	Instructions string             `json:"-"`
}

type snapshot struct {
	agents   []types.AgentInfo
	runbooks []*runbook.Runbook
	at       time.Time
}

// Client calls the orchestrator's HTTP API.
type Client struct {
	base   string
	self   string
	ttl    time.Duration
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	group singleflight.Group
	mu    sync.RWMutex
	snap  *snapshot
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		self:   strings.ToLower(cfg.Self),
		ttl:    cfg.TTL,
		http:   hc,
		logger: logger.With(zap.String("component", "discovery")),
		now:    time.Now,
	}
}

// Invalidate drops cached listings; the next lookup refetches.
func (c *Client) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

func (c *Client) snapshot(ctx context.Context) (*snapshot, error) {
	c.mu.RLock()
	s := c.snap
	c.mu.RUnlock()
	if s != nil && c.now().Sub(s.at) < c.ttl {
		return s, nil
	}

	v, err, _ := c.group.Do("snapshot", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (c *Client) refresh(ctx context.Context) (*snapshot, error) {
	s := &snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.get(gctx, "/agents", &s.agents)
	})
	g.Go(func() error {
		return c.get(gctx, "/agents/runbooks", &s.runbooks)
	})
	if err := g.Wait(); err != nil {
		c.logger.Warn("agent discovery failed", zap.Error(err))
		return nil, err
	}
	s.at = c.now()

	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
	c.logger.Debug("agents discovered", zap.Int("agents", len(s.agents)), zap.Int("runbooks", len(s.runbooks)))
	return s, nil
}

// Agents lists every registered agent.
func (c *Client) Agents(ctx context.Context) ([]types.AgentInfo, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.agents, nil
}

// Running lists the agents recorded as running.
func (c *Client) Running(ctx context.Context) ([]types.AgentInfo, error) {
	agents, err := c.Agents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.AgentInfo, 0, len(agents))
	for _, a := range agents {
		if a.IsRunning() {
			out = append(out, a)
		}
	}
	return out, nil
}

// Agent looks up one registered agent, ignoring case.
func (c *Client) Agent(ctx context.Context, name string) (types.AgentInfo, bool) {
	agents, err := c.Agents(ctx)
	if err != nil {
		return types.AgentInfo{}, false
	}
	for _, a := range agents {
		if strings.EqualFold(a.Name, name) {
			return a, true
		}
	}
	return types.AgentInfo{}, false
}

// IsRunning reports whether name is registered and running. Lookup failures
// count as not running.
func (c *Client) IsRunning(ctx context.Context, name string) bool {
	a, ok := c.Agent(ctx, name)
	return ok && a.IsRunning()
}

// Names snapshots the registered agent names for mention extraction.
func (c *Client) Names(ctx context.Context) mention.Names {
	agents, err := c.Agents(ctx)
	if err != nil {
		return mention.NewNames()
	}
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name)
	}
	return mention.NewNames(names...)
}

// Runbooks lists the runbooks agents have published.
func (c *Client) Runbooks(ctx context.Context) ([]*runbook.Runbook, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.runbooks, nil
}

// Peers joins runbooks with registry records, in runbook order, skipping the
// client's own agent.
func (c *Client) Peers(ctx context.Context) ([]Peer, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]types.AgentInfo, len(s.agents))
	for _, a := range s.agents {
		byName[strings.ToLower(a.Name)] = a
	}
	peers := make([]Peer, 0, len(s.runbooks))
	for _, rb := range s.runbooks {
		name := strings.ToLower(rb.AgentName)
		if name == "" || name == c.self {
			continue
		}
		info := byName[name]
		peers = append(peers, Peer{
			Name:         name,
			Role:         rb.Role,
			JobTitle:     rb.JobTitle,
			Capabilities: rb.Capabilities,
			Running:      info.IsRunning(),
			Actions:      info.Actions,
			Instructions: rb.SystemInstructions,
		})
	}
	return peers, nil
}

// =============================================================================
// Control-plane calls
// =============================================================================

// Register announces this agent process.
func (c *Client) Register(ctx context.Context, req api.RegisterRequest) error {
	defer c.Invalidate()
	return c.post(ctx, "/agents/register", req, nil)
}

// PublishRunbook posts a parsed runbook so peers can discover capabilities.
func (c *Client) PublishRunbook(ctx context.Context, rb *runbook.Runbook) error {
	defer c.Invalidate()
	return c.post(ctx, "/agents/runbooks", rb, nil)
}

// Actions loads the actions assigned to name.
func (c *Client) Actions(ctx context.Context, name string) (*api.AgentActions, error) {
	var out api.AgentActions
	if err := c.get(ctx, "/agents/"+url.PathEscape(name)+"/actions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteAction runs an action through the orchestrator. The result map
// carries either "result" or "error".
func (c *Client) ExecuteAction(ctx context.Context, name, actionID string, params map[string]any) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}
	var out map[string]any
	err := c.post(ctx, "/agents/"+url.PathEscape(name)+"/actions/execute",
		api.ExecuteActionRequest{ActionID: actionID, Parameters: params}, &out)
	return out, err
}

// StartAgent starts name and returns the orchestrator's message.
func (c *Client) StartAgent(ctx context.Context, name string) (string, error) {
	defer c.Invalidate()
	return c.call(ctx, "/agents/start", api.NameRequest{Name: name}, nil)
}

// StopAgent stops name and returns the orchestrator's message.
func (c *Client) StopAgent(ctx context.Context, name string) (string, error) {
	defer c.Invalidate()
	return c.call(ctx, "/agents/stop", api.NameRequest{Name: name}, nil)
}

// CreateAgent creates and starts a new agent.
func (c *Client) CreateAgent(ctx context.Context, req api.CreateAgentRequest) (string, error) {
	defer c.Invalidate()
	return c.call(ctx, "/agents/create", req, nil)
}

// DeleteAgent deletes an agent.
func (c *Client) DeleteAgent(ctx context.Context, req api.DeleteAgentRequest) (string, *api.DeleteResult, error) {
	defer c.Invalidate()
	var res api.DeleteResult
	msg, err := c.call(ctx, "/agents/delete", req, &res)
	return msg, &res, err
}

// ActionServers lists configured action servers.
func (c *Client) ActionServers(ctx context.Context) ([]api.ActionServerInfo, error) {
	var out []api.ActionServerInfo
	err := c.get(ctx, "/action-servers/available", &out)
	return out, err
}

// AssignActionServer binds server to agent.
func (c *Client) AssignActionServer(ctx context.Context, agent, server string) (string, *api.AssignResult, error) {
	defer c.Invalidate()
	var res api.AssignResult
	msg, err := c.call(ctx, "/agents/assign-action-server",
		api.AssignActionServerRequest{AgentName: agent, ActionServer: server}, &res)
	return msg, &res, err
}

// RemoveActionServer unbinds agent's action server.
func (c *Client) RemoveActionServer(ctx context.Context, agent string) (string, error) {
	defer c.Invalidate()
	return c.call(ctx, "/agents/remove-action-server", api.RemoveActionServerRequest{AgentName: agent}, nil)
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) get(ctx context.Context, path string, data any) error {
	_, err := c.do(ctx, http.MethodGet, path, nil, data)
	return err
}

func (c *Client) post(ctx context.Context, path string, body, data any) error {
	_, err := c.do(ctx, http.MethodPost, path, body, data)
	return err
}

func (c *Client) call(ctx context.Context, path string, body, data any) (string, error) {
	return c.do(ctx, http.MethodPost, path, body, data)
}

// do sends one request and unwraps the envelope. A non-ok envelope becomes a
// *types.Error carrying the orchestrator's code and message.
func (c *Client) do(ctx context.Context, method, path string, body, data any) (string, error) {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", types.NewError(types.ErrServiceUnavailable, "orchestrator unreachable").WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	var env api.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", types.Errorf(types.ErrUpstreamError, "%s %s: HTTP %d", method, path, resp.StatusCode).WithCause(err)
	}
	if !env.OK || resp.StatusCode >= 300 {
		code := types.ErrorCode(env.Code)
		if code == "" {
			code = types.ErrUpstreamError
		}
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("%s %s: HTTP %d", method, path, resp.StatusCode)
		}
		return "", types.NewError(code, msg).WithHTTPStatus(resp.StatusCode)
	}
	if data != nil {
		if err := env.DecodeData(data); err != nil {
			return "", fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return env.Message, nil
}
