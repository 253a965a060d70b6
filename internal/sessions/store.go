// Package sessions provides session persistence and lifecycle management.
package sessions

import (
	"context"
	"errors"

	"github.com/haasonsaas/aria/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// ErrSessionEnded is returned on an attempt to append to a closed session.
var ErrSessionEnded = errors.New("session has ended")

// Store is the interface for session persistence.
type Store interface {
	// Session CRUD
	Create(ctx context.Context, session *models.Session) error
	Get(ctx context.Context, id string) (*models.Session, error)
	Update(ctx context.Context, session *models.Session) error
	Delete(ctx context.Context, id string) error

	// GetByKey returns the most recent session for a key.
	GetByKey(ctx context.Context, key string) (*models.Session, error)
	List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Type   models.SessionType
	Status models.SessionStatus
	Limit  int
	Offset int
}
