package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/aria/pkg/models"
)

// PostgresStore implements the Store interface on the aria_engine schema.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for performance
	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtUpdateSession *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtGetByKey      *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtBumpSession   *sql.Stmt
	stmtGetHistory    *sql.Stmt
}

// DB exposes the underlying database connection for related stores.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// NewPostgresStore creates a session store over an existing connection.
// The caller owns the connection pool configuration.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO aria_engine.sessions (id, agent_id, key, session_type, status, title, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return fmt.Errorf("prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, agent_id, key, session_type, status, title, ended_at, message_count, total_tokens, total_cost, metadata, created_at, updated_at
		FROM aria_engine.sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get session: %w", err)
	}

	s.stmtUpdateSession, err = s.db.Prepare(`
		UPDATE aria_engine.sessions
		SET status = $1, title = $2, ended_at = $3, metadata = $4, updated_at = $5
		WHERE id = $6
	`)
	if err != nil {
		return fmt.Errorf("prepare update session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`
		DELETE FROM aria_engine.sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare delete session: %w", err)
	}

	s.stmtGetByKey, err = s.db.Prepare(`
		SELECT id, agent_id, key, session_type, status, title, ended_at, message_count, total_tokens, total_cost, metadata, created_at, updated_at
		FROM aria_engine.sessions WHERE key = $1
		ORDER BY created_at DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare get by key: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO aria_engine.messages (id, session_id, role, content, thinking, tool_calls, tool_results, model, tokens_input, tokens_output, cost, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("prepare append message: %w", err)
	}

	s.stmtBumpSession, err = s.db.Prepare(`
		UPDATE aria_engine.sessions
		SET message_count = message_count + 1,
		    total_tokens = total_tokens + $1,
		    total_cost = total_cost + $2,
		    updated_at = $3
		WHERE id = $4 AND status = 'active'
	`)
	if err != nil {
		return fmt.Errorf("prepare bump session: %w", err)
	}

	s.stmtGetHistory, err = s.db.Prepare(`
		SELECT id, session_id, role, content, thinking, tool_calls, tool_results, model, tokens_input, tokens_output, cost, latency_ms, created_at
		FROM aria_engine.messages WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`)
	if err != nil {
		return fmt.Errorf("prepare get history: %w", err)
	}

	return nil
}

// Close closes the prepared statements and the database connection.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtUpdateSession,
		s.stmtDeleteSession, s.stmtGetByKey, s.stmtAppendMessage,
		s.stmtBumpSession, s.stmtGetHistory,
	} {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	session.UpdatedAt = session.CreatedAt
	if session.Status == "" {
		session.Status = models.SessionActive
	}

	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.AgentID, session.Key, string(session.Type),
		string(session.Status), session.Title, metadata,
		session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Session, error) {
	return scanSession(s.stmtGetSession.QueryRowContext(ctx, id))
}

func (s *PostgresStore) GetByKey(ctx context.Context, key string) (*models.Session, error) {
	return scanSession(s.stmtGetByKey.QueryRowContext(ctx, key))
}

func (s *PostgresStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil {
		return errors.New("session is required")
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var endedAt any
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	result, err := s.stmtUpdateSession.ExecContext(ctx,
		string(session.Status), session.Title, endedAt, metadata,
		time.Now(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.stmtDeleteSession.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, agentID string, opts ListOptions) ([]*models.Session, error) {
	query := `
		SELECT id, agent_id, key, session_type, status, title, ended_at, message_count, total_tokens, total_cost, metadata, created_at, updated_at
		FROM aria_engine.sessions
		WHERE ($1 = '' OR agent_id = $1)
		  AND ($2 = '' OR session_type = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`
	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, query, agentID, string(opts.Type), string(opts.Status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionID = sessionID

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		msg.ID, sessionID, string(msg.Role), msg.Content, msg.Thinking,
		toolCalls, toolResults, msg.Model,
		msg.TokensInput, msg.TokensOut, int64(msg.Cost), msg.LatencyMs,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	result, err := tx.StmtContext(ctx, s.stmtBumpSession).ExecContext(ctx,
		msg.TokensInput+msg.TokensOut, int64(msg.Cost), time.Now(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("bump session: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		// A missing session row is caught by the messages FK above, so
		// zero rows here means the session is no longer active.
		return ErrSessionEnded
	}

	return tx.Commit()
}

func (s *PostgresStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.stmtGetHistory.QueryContext(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var out []*models.Message
	for rows.Next() {
		var (
			msg         models.Message
			role        string
			toolCalls   []byte
			toolResults []byte
			cost        int64
		)
		err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.Thinking,
			&toolCalls, &toolResults, &msg.Model,
			&msg.TokensInput, &msg.TokensOut, &cost, &msg.LatencyMs, &msg.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.Cost = models.Cost(cost)
		if len(toolCalls) > 0 {
			if err := json.Unmarshal(toolCalls, &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		if len(toolResults) > 0 {
			if err := json.Unmarshal(toolResults, &msg.ToolResults); err != nil {
				return nil, fmt.Errorf("unmarshal tool results: %w", err)
			}
		}
		out = append(out, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers expect chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		session     models.Session
		sessionType string
		status      string
		endedAt     sql.NullTime
		totalCost   int64
		metadata    []byte
	)
	err := row.Scan(&session.ID, &session.AgentID, &session.Key, &sessionType,
		&status, &session.Title, &endedAt, &session.MessageCount,
		&session.TotalTokens, &totalCost, &metadata,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Type = models.SessionType(sessionType)
	session.Status = models.SessionStatus(status)
	session.TotalCost = models.Cost(totalCost)
	if endedAt.Valid {
		t := endedAt.Time
		session.EndedAt = &t
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &session.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &session, nil
}
