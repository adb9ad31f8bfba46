// Package registry persists Agent Records: identity, declared role, liveness
// status, process id and the action-server binding of every known agent.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentmesh/types"
)

// ErrNotFound is returned when no record exists for a name or id.
var ErrNotFound = errors.New("agent not found")

// Record is one row of the agents table.
type Record struct {
	ID               string            `gorm:"primaryKey;size:64" json:"id"`
	Name             string            `gorm:"size:128;not null;uniqueIndex:idx_agents_name" json:"name"`
	Role             string            `gorm:"type:text;not null;default:''" json:"role"`
	InboxTopic       string            `gorm:"size:255;not null;default:''" json:"inbox_topic"`
	StatusEndpoint   string            `gorm:"size:255;not null;default:''" json:"status_endpoint"`
	Status           types.AgentStatus `gorm:"size:16;not null;default:stopped;index:idx_agents_status" json:"status"`
	PID              *int              `gorm:"column:pid" json:"pid"`
	LastSeenAt       *time.Time        `json:"last_seen_at"`
	ActionServerName string            `gorm:"size:128;not null;default:''" json:"action_server_name"`
	Actions          []types.Action    `gorm:"type:text;serializer:json" json:"actions"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName 指定表名
func (Record) TableName() string {
	return "agents"
}

// Info converts the row into the control plane's wire shape.
func (r Record) Info() types.AgentInfo {
	return types.AgentInfo{
		ID:               r.ID,
		Name:             r.Name,
		Role:             r.Role,
		InboxTopic:       r.InboxTopic,
		StatusEndpoint:   r.StatusEndpoint,
		Status:           r.Status,
		PID:              r.PID,
		LastSeenAt:       r.LastSeenAt,
		ActionServerName: r.ActionServerName,
		Actions:          r.Actions,
	}
}

// Registration carries the fields an agent reports about itself on startup.
type Registration struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	InboxTopic     string `json:"inbox_topic"`
	StatusEndpoint string `json:"status_endpoint"`
}

// Store is the gorm-backed agent registry.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store over an open, migrated database.
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "registry")),
		now:    time.Now,
	}
}

// DB exposes the underlying handle for readiness checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Get looks a record up by case-insensitive name.
func (s *Store) Get(ctx context.Context, name string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("name = ?", key(name)).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	return &rec, nil
}

// GetByID looks a record up by its id.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent by id %s: %w", id, err)
	}
	return &rec, nil
}

// List returns every record ordered by name.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return recs, nil
}

// ListRunning returns the records whose status is running.
func (s *Store) ListRunning(ctx context.Context) ([]Record, error) {
	var recs []Record
	err := s.db.WithContext(ctx).
		Where("status = ?", types.AgentRunning).
		Order("name ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list running agents: %w", err)
	}
	return recs, nil
}

// Register upserts by name and marks the agent running. pid is the
// supervisor's view of the process and may be nil for externally started agents.
func (s *Store) Register(ctx context.Context, reg Registration, pid *int) (*Record, error) {
	name := key(reg.Name)
	if name == "" {
		return nil, errors.New("agent name is required")
	}
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}
	now := s.now()

	var out Record
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Record
		err := tx.Where("name = ?", name).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = Record{
				ID:             reg.ID,
				Name:           name,
				Role:           reg.Role,
				InboxTopic:     reg.InboxTopic,
				StatusEndpoint: reg.StatusEndpoint,
				Status:         types.AgentRunning,
				PID:            pid,
				LastSeenAt:     &now,
			}
			return tx.Create(&out).Error
		case err != nil:
			return err
		}

		err = tx.Model(&Record{}).Where("name = ?", name).Updates(map[string]any{
			"id":              reg.ID,
			"role":            reg.Role,
			"inbox_topic":     reg.InboxTopic,
			"status_endpoint": reg.StatusEndpoint,
			"status":          types.AgentRunning,
			"pid":             pid,
			"last_seen_at":    now,
		}).Error
		if err != nil {
			return err
		}
		return tx.Where("name = ?", name).Take(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("register agent %s: %w", name, err)
	}

	s.logger.Info("agent registered", zap.String("agent", name), zap.String("id", out.ID))
	return &out, nil
}

// EnsureStub returns the record for name, creating a stopped placeholder
// (id "agent_<name>") when none exists yet.
func (s *Store) EnsureStub(ctx context.Context, name string) (*Record, error) {
	rec, err := s.Get(ctx, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	n := key(name)
	stub := Record{
		ID:         "agent_" + n,
		Name:       n,
		InboxTopic: "agent:" + n + ":inbox",
		Status:     types.AgentStopped,
	}
	if err := s.db.WithContext(ctx).Create(&stub).Error; err != nil {
		return nil, fmt.Errorf("create agent stub %s: %w", n, err)
	}
	return &stub, nil
}

// SetStatus records a liveness transition. A nil pid clears the column.
func (s *Store) SetStatus(ctx context.Context, name string, status types.AgentStatus, pid *int) error {
	res := s.db.WithContext(ctx).Model(&Record{}).Where("name = ?", key(name)).Updates(map[string]any{
		"status": status,
		"pid":    pid,
	})
	if res.Error != nil {
		return fmt.Errorf("set status of %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// SetActions binds an action server and its actions to an agent. An empty
// server clears the binding.
func (s *Store) SetActions(ctx context.Context, name, server string, actions []types.Action) error {
	if actions == nil {
		actions = []types.Action{}
	}
	res := s.db.WithContext(ctx).Model(&Record{}).Where("name = ?", key(name)).
		Select("action_server_name", "actions").
		Updates(&Record{ActionServerName: server, Actions: actions})
	if res.Error != nil {
		return fmt.Errorf("set actions of %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Delete removes the record and reports whether one existed.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	res := s.db.WithContext(ctx).Where("name = ?", key(name)).Delete(&Record{})
	if res.Error != nil {
		return false, fmt.Errorf("delete agent %s: %w", name, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Names returns the names of all registered agents.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&Record{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("list agent names: %w", err)
	}
	return names, nil
}
