// Package pool manages the live agent population: spawn governance under
// the global and per-type ceilings, task binding, and release accounting.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// Pool errors.
var (
	// ErrPoolFull is returned when the global concurrency ceiling is hit.
	ErrPoolFull = errors.New("agent pool is full")

	// ErrTypeCeiling is returned when the per-type ceiling is hit. The
	// ceiling check runs inside the store's spawn transaction.
	ErrTypeCeiling = errors.New("agent type ceiling reached")

	// ErrAgentNotFound is returned for operations on an unknown agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentBusy is returned when binding a task to a non-idle agent.
	ErrAgentBusy = errors.New("agent is busy")

	// ErrAgentDisabled is returned for operations on a terminated agent.
	ErrAgentDisabled = errors.New("agent is disabled")
)

// DefaultTypeCeilings caps the persisted population per agent type prefix.
func DefaultTypeCeilings() map[string]int {
	return map[string]int{
		"sub-devsecops":    10,
		"sub-social":       10,
		"sub-orchestrator": 5,
		"sub-aria":         5,
	}
}

// Store persists agents. Insert must perform the per-type count and the
// row insert in a single serializable transaction so concurrent spawns
// cannot both pass the ceiling check.
type Store interface {
	Insert(ctx context.Context, agent *models.Agent, typePrefix string, ceiling int) error
	Update(ctx context.Context, agent *models.Agent) error
	// Disable marks an agent disabled. The row is kept: disabled is a
	// terminal state, not a deletion.
	Disable(ctx context.Context, id string) error
	ListActive(ctx context.Context) ([]*models.Agent, error)
}

// Config configures the agent pool.
type Config struct {
	// MaxConcurrentAgents is the in-memory global ceiling.
	MaxConcurrentAgents int

	// TypeCeilings caps the persisted population per type prefix. A type
	// absent from the map is uncapped.
	TypeCeilings map[string]int

	// FailureThreshold flips an agent to failed after this many
	// consecutive task failures.
	FailureThreshold int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentAgents: 20,
		TypeCeilings:        DefaultTypeCeilings(),
		FailureThreshold:    3,
	}
}

// Pool tracks live agents. All mutations run under one mutex; the ceiling
// check and the store insert share the critical section.
type Pool struct {
	config Config
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]*models.Agent
	now  func() time.Time
}

// New creates an agent pool over the given store.
func New(store Store, config Config) *Pool {
	if config.MaxConcurrentAgents <= 0 {
		config.MaxConcurrentAgents = 20
	}
	if config.TypeCeilings == nil {
		config.TypeCeilings = DefaultTypeCeilings()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	return &Pool{
		config: config,
		store:  store,
		logger: slog.Default().With("component", "pool"),
		live:   map[string]*models.Agent{},
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (p *Pool) SetNowFunc(now func() time.Time) {
	p.mu.Lock()
	p.now = now
	p.mu.Unlock()
}

// Rehydrate reloads non-disabled agents from the store into the live set.
// Called once at startup, before the scheduler begins dispatching.
func (p *Pool) Rehydrate(ctx context.Context) error {
	agents, err := p.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate pool: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, agent := range agents {
		if len(p.live) >= p.config.MaxConcurrentAgents {
			p.logger.Warn("rehydration hit the concurrency ceiling",
				"loaded", len(p.live), "remaining", len(agents)-len(p.live))
			break
		}
		clone := *agent
		// A task bound before the restart is gone; the agent starts idle.
		if clone.Status == models.AgentBusy {
			clone.Status = models.AgentIdle
		}
		p.live[clone.ID] = &clone
	}
	p.logger.Info("pool rehydrated", "agents", len(p.live))
	return nil
}

// SpawnAgent admits a new agent. The global ceiling is checked in memory;
// the per-type ceiling is enforced by the store inside a serializable
// transaction together with the insert.
func (p *Pool) SpawnAgent(ctx context.Context, agent *models.Agent) error {
	if agent == nil || agent.ID == "" {
		return errors.New("agent with ID is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.live[agent.ID]; exists {
		return fmt.Errorf("agent %s already live", agent.ID)
	}
	if len(p.live) >= p.config.MaxConcurrentAgents {
		return fmt.Errorf("%w: %d live agents", ErrPoolFull, len(p.live))
	}

	now := p.now()
	agent.Status = models.AgentIdle
	agent.ConsecutiveFailures = 0
	if agent.PheromoneScore == 0 {
		agent.PheromoneScore = models.DefaultPheromoneScore
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	agent.UpdatedAt = now

	prefix := models.TypePrefix(agent.ID)
	ceiling := p.config.TypeCeilings[prefix]
	if err := p.store.Insert(ctx, agent, prefix, ceiling); err != nil {
		return err
	}

	clone := *agent
	p.live[agent.ID] = &clone
	p.logger.Info("agent spawned", "agent_id", agent.ID, "type", prefix, "live", len(p.live))
	return nil
}

// TerminateAgent marks an agent disabled in the store and removes it from
// the live set. Termination is allowed from any state, including agents
// that are persisted but not live (for example after a restart); the
// disabled row stays behind as the terminal record.
func (p *Pool) TerminateAgent(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if agent, ok := p.live[id]; ok {
		agent.Status = models.AgentDisabled
	}
	if err := p.store.Disable(ctx, id); err != nil {
		return fmt.Errorf("terminate agent %s: %w", id, err)
	}
	delete(p.live, id)
	p.logger.Info("agent terminated", "agent_id", id, "live", len(p.live))
	return nil
}

// BindTask transitions an idle agent to busy.
func (p *Pool) BindTask(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.live[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	switch agent.Status {
	case models.AgentDisabled:
		return fmt.Errorf("%w: %s", ErrAgentDisabled, id)
	case models.AgentBusy:
		return fmt.Errorf("%w: %s", ErrAgentBusy, id)
	case models.AgentFailed:
		return fmt.Errorf("agent %s is failed", id)
	}

	agent.Status = models.AgentBusy
	agent.LastActiveAt = p.now()
	agent.UpdatedAt = agent.LastActiveAt
	return p.store.Update(ctx, agent)
}

// Release returns a busy agent to the pool, folding the task outcome into
// its routing score. Crossing the consecutive-failure threshold flips the
// agent to failed instead of idle.
func (p *Pool) Release(ctx context.Context, id string, success bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.live[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	if agent.Status != models.AgentBusy {
		return fmt.Errorf("agent %s is not busy", id)
	}

	agent.ApplyOutcome(success)
	if agent.ConsecutiveFailures >= p.config.FailureThreshold {
		agent.Status = models.AgentFailed
		p.logger.Warn("agent crossed failure threshold",
			"agent_id", id, "consecutive_failures", agent.ConsecutiveFailures)
	} else {
		agent.Status = models.AgentIdle
	}
	agent.UpdatedAt = p.now()
	return p.store.Update(ctx, agent)
}

// Get returns a snapshot of one live agent.
func (p *Pool) Get(id string) (*models.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	agent, ok := p.live[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	clone := *agent
	return &clone, nil
}

// ListLive returns snapshots of all live agents, ordered by ID.
func (p *Pool) ListLive() []*models.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*models.Agent, 0, len(p.live))
	for _, agent := range p.live {
		clone := *agent
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveCount returns the number of live agents.
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
