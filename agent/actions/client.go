// Package actions talks to action servers: external HTTP services that
// describe their operations with an OpenAPI document and execute them on
// behalf of agents.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/types"
)

// specPaths are tried in order when looking for the OpenAPI document.
var specPaths = []string{"/openapi.json", "", "/api/openapi.json", "/docs/openapi.json"}

// ErrNoSpec is returned when no candidate path served an OpenAPI document.
var ErrNoSpec = errors.New("no OpenAPI spec found")

// ClientConfig configures Client.
type ClientConfig struct {
	Timeout      time.Duration
	SpecTimeout  time.Duration
	RateLimitRPS float64
	// HTTPClient overrides the hardened default client, e.g. one built
	// from the tls config section.
	HTTPClient *http.Client
}

// DefaultClientConfig returns the default client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		SpecTimeout:  10 * time.Second,
		RateLimitRPS: 5,
	}
}

// Client discovers and executes actions on action servers.
type Client struct {
	http        *http.Client
	specTimeout time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.SpecTimeout <= 0 {
		cfg.SpecTimeout = def.SpecTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = tlsutil.SecureHTTPClient(cfg.Timeout)
	}
	return &Client{
		http:        hc,
		specTimeout: cfg.SpecTimeout,
		limiter:     limiter,
		logger:      logger.With(zap.String("component", "action_client")),
	}
}

// FetchSpec returns the first OpenAPI document served by srv.
func (c *Client) FetchSpec(ctx context.Context, srv Server) (*Spec, error) {
	base := strings.TrimRight(srv.URL, "/")
	for _, p := range specPaths {
		u := base + p
		spec, err := c.tryFetch(ctx, srv, u)
		if err != nil {
			c.logger.Debug("no spec at candidate", zap.String("url", u), zap.Error(err))
			continue
		}
		c.logger.Info("found OpenAPI spec",
			zap.String("server", srv.ID),
			zap.String("url", u),
			zap.Int("paths", len(spec.Paths)),
		)
		return spec, nil
	}
	return nil, fmt.Errorf("%w at %s", ErrNoSpec, base)
}

func (c *Client) tryFetch(ctx context.Context, srv Server, u string) (*Spec, error) {
	ctx, cancel := context.WithTimeout(ctx, c.specTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req, srv)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("not JSON: %w", err)
	}
	if !isSpec(raw) {
		return nil, errors.New("JSON but not OpenAPI format")
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	return &spec, nil
}

// Discover fetches srv's spec and derives its actions.
func (c *Client) Discover(ctx context.Context, srv Server) ([]types.Action, error) {
	spec, err := c.FetchSpec(ctx, srv)
	if err != nil {
		return nil, err
	}
	actions := ParseActions(spec)
	c.logger.Info("discovered actions", zap.String("server", srv.ID), zap.Int("count", len(actions)))
	return actions, nil
}

// Ping reports whether srv serves an OpenAPI document.
func (c *Client) Ping(ctx context.Context, srv Server) bool {
	_, err := c.FetchSpec(ctx, srv)
	return err == nil
}

// Execute invokes action on srv. The returned map carries either "result" or
// "error"; transport problems never surface as a Go error.
func (c *Client) Execute(ctx context.Context, srv Server, action types.Action, params map[string]any) map[string]any {
	if err := c.limiter.Wait(ctx); err != nil {
		return map[string]any{"error": fmt.Sprintf("Failed to execute action: %v", err)}
	}

	u := strings.TrimRight(srv.URL, "/") + action.Endpoint
	var req *http.Request
	var err error
	switch strings.ToUpper(action.Method) {
	case http.MethodPost, "":
		body, mErr := json.Marshal(params)
		if mErr != nil {
			return map[string]any{"error": fmt.Sprintf("Failed to execute action: %v", mErr)}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	case http.MethodGet:
		q := url.Values{}
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	default:
		return map[string]any{"error": fmt.Sprintf("Unsupported HTTP method: %s", action.Method)}
	}
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("Failed to execute action: %v", err)}
	}
	c.authorize(req, srv)

	c.logger.Info("executing action",
		zap.String("server", srv.ID),
		zap.String("action", action.ID),
		zap.String("method", req.Method),
		zap.String("endpoint", action.Endpoint),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("action request failed", zap.String("action", action.ID), zap.Error(err))
		return map[string]any{"error": fmt.Sprintf("Failed to execute action: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("Failed to execute action: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{"error": fmt.Sprintf("Failed to execute action: HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))}
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return map[string]any{"result": string(data)}
	}
	return map[string]any{"result": decoded}
}

func (c *Client) authorize(req *http.Request, srv Server) {
	req.Header.Set("Content-Type", "application/json")
	if srv.Token != "" {
		req.Header.Set("Authorization", "Bearer "+srv.Token)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
