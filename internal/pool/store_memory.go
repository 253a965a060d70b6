package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/aria/pkg/models"
)

// MemoryStore is an in-memory agent store for testing and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	agents map[string]*models.Agent
}

// NewMemoryStore creates an in-memory agent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: map[string]*models.Agent{}}
}

func (m *MemoryStore) Insert(ctx context.Context, agent *models.Agent, typePrefix string, ceiling int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ceiling > 0 {
		count := 0
		for id, existing := range m.agents {
			if existing.Status == models.AgentDisabled {
				continue
			}
			if models.TypePrefix(id) == typePrefix {
				count++
			}
		}
		if count >= ceiling {
			return fmt.Errorf("%w: %s at %d", ErrTypeCeiling, typePrefix, ceiling)
		}
	}
	if _, exists := m.agents[agent.ID]; exists {
		return fmt.Errorf("agent %s already exists", agent.ID)
	}
	clone := *agent
	m.agents[agent.ID] = &clone
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, agent *models.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.agents[agent.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agent.ID)
	}
	clone := *agent
	m.agents[agent.ID] = &clone
	return nil
}

func (m *MemoryStore) Disable(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	agent, ok := m.agents[id]
	if !ok || agent.Status == models.AgentDisabled {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	agent.Status = models.AgentDisabled
	return nil
}

func (m *MemoryStore) ListActive(ctx context.Context) ([]*models.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Agent, 0, len(m.agents))
	for _, agent := range m.agents {
		if agent.Status == models.AgentDisabled {
			continue
		}
		clone := *agent
		out = append(out, &clone)
	}
	return out, nil
}
