package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// ErrServerNotFound is returned for an unknown action server id.
var ErrServerNotFound = errors.New("action server not found")

// ErrConfigNotFound is returned when an agent has no action configuration.
var ErrConfigNotFound = errors.New("agent action config not found")

// Server is one entry of the action servers file.
type Server struct {
	ID           string `json:"-"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Type         string `json:"type"`
	URL          string `json:"url"`
	Token        string `json:"token,omitempty"`
	AutoDiscover bool   `json:"auto_discover"`
}

// ServerSet is the loaded action servers, keyed by id.
type ServerSet map[string]Server

// Get returns the server with id.
func (s ServerSet) Get(id string) (Server, error) {
	srv, ok := s[id]
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return srv, nil
}

// IDs returns the sorted server ids.
func (s ServerSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

type serversFile struct {
	Servers map[string]Server `json:"servers"`
}

// LoadServers reads the action servers file, substituting ${VAR} references in
// url and token. A missing file yields an empty set.
func LoadServers(path string, logger *zap.Logger) (ServerSet, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("action servers config not found", zap.String("path", path))
			return ServerSet{}, nil
		}
		return nil, fmt.Errorf("read action servers: %w", err)
	}

	var f serversFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse action servers: %w", err)
	}

	set := make(ServerSet, len(f.Servers))
	for id, srv := range f.Servers {
		srv.ID = id
		srv.URL = ExpandEnv(srv.URL)
		srv.Token = ExpandEnv(srv.Token)
		set[id] = srv
		logger.Info("loaded action server",
			zap.String("server", id),
			zap.String("type", srv.Type),
			zap.String("url", srv.URL),
		)
	}
	return set, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ExpandEnv replaces ${VAR} with the environment value. Unset or empty
// variables are left verbatim.
func ExpandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return m
	})
}

// AgentConfig binds an agent to an action server.
type AgentConfig struct {
	AgentName    string         `json:"agent_name"`
	ActionServer string         `json:"action_server"`
	Actions      []types.Action `json:"actions,omitempty"`
}

// ConfigStore keeps one AgentConfig JSON file per agent.
type ConfigStore struct {
	dir string
}

// NewConfigStore creates a ConfigStore rooted at dir.
func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

// Path returns the config file of name.
func (s *ConfigStore) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Load reads name's config.
func (s *ConfigStore) Load(name string) (*AgentConfig, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
		}
		return nil, fmt.Errorf("read agent config %s: %w", name, err)
	}
	var cfg AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse agent config %s: %w", name, err)
	}
	if cfg.AgentName == "" {
		cfg.AgentName = name
	}
	return &cfg, nil
}

// List returns the sorted agent names that have a config file.
func (s *ConfigStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("list agent configs: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Write stores cfg under its agent name.
func (s *ConfigStore) Write(cfg AgentConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create configs dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	if err := os.WriteFile(s.Path(cfg.AgentName), data, 0o644); err != nil {
		return fmt.Errorf("write agent config %s: %w", cfg.AgentName, err)
	}
	return nil
}

// Remove deletes name's config, reporting whether a file existed.
func (s *ConfigStore) Remove(name string) (bool, error) {
	err := os.Remove(s.Path(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("remove agent config %s: %w", name, err)
	}
}
