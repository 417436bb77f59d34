package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps lists and their logs in PostgreSQL.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgres connects to PostgreSQL and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{Pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	listsQuery := `
		CREATE TABLE IF NOT EXISTS lists (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			prompt TEXT NOT NULL,
			title TEXT,
			status TEXT NOT NULL DEFAULT 'processing',
			data JSONB,
			error TEXT,
			session_id TEXT,
			user_id TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := s.Pool.Exec(ctx, listsQuery); err != nil {
		return fmt.Errorf("failed to create lists table: %w", err)
	}

	logsQuery := `
		CREATE TABLE IF NOT EXISTS list_logs (
			id SERIAL PRIMARY KEY,
			list_id UUID NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := s.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create list_logs table: %w", err)
	}

	if _, err := s.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_list_logs_list_id ON list_logs(list_id)"); err != nil {
		return fmt.Errorf("failed to create index on list_logs: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_lists_created_at ON lists(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on lists: %w", err)
	}
	if _, err := s.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_lists_session_id ON lists(session_id)"); err != nil {
		return fmt.Errorf("failed to create index on lists session_id: %w", err)
	}

	return nil
}

func (s *PostgresStore) CreateList(ctx context.Context, list *List) error {
	query := `
		INSERT INTO lists (id, prompt, status, session_id, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.Pool.QueryRow(ctx, query,
		list.ID, list.Prompt, list.Status, nullable(list.SessionID), nullable(list.UserID),
	).Scan(&list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create list: %w", err)
	}
	return nil
}

const listColumns = "id, prompt, title, status, data, error, session_id, user_id, created_at, updated_at"

func (s *PostgresStore) GetList(ctx context.Context, id uuid.UUID) (*List, error) {
	query := "SELECT " + listColumns + " FROM lists WHERE id = $1"
	list, err := scanList(s.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list: %w", err)
	}
	return list, nil
}

func (s *PostgresStore) ListLists(ctx context.Context, limit int) ([]List, error) {
	query := "SELECT " + listColumns + " FROM lists ORDER BY created_at DESC LIMIT $1"
	rows, err := s.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	defer rows.Close()
	return collectLists(rows)
}

func (s *PostgresStore) ListsBySession(ctx context.Context, sessionID string) ([]List, error) {
	query := "SELECT " + listColumns + " FROM lists WHERE session_id = $1 ORDER BY created_at DESC"
	rows, err := s.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session lists: %w", err)
	}
	defer rows.Close()
	return collectLists(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.Pool.Exec(ctx,
		"UPDATE lists SET status = $2, updated_at = NOW() WHERE id = $1", id, status)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteList(ctx context.Context, id uuid.UUID, title string, data []map[string]any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal list data: %w", err)
	}
	tag, err := s.Pool.Exec(ctx,
		"UPDATE lists SET status = 'completed', title = $2, data = $3, updated_at = NOW() WHERE id = $1",
		id, title, dataJSON)
	if err != nil {
		return fmt.Errorf("failed to complete list: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailList(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.Pool.Exec(ctx,
		"UPDATE lists SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1",
		id, reason)
	if err != nil {
		return fmt.Errorf("failed to mark list failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteList(ctx context.Context, id uuid.UUID) error {
	// list_logs rows go with the list via ON DELETE CASCADE.
	tag, err := s.Pool.Exec(ctx, "DELETE FROM lists WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete list: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry LogEntry) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO list_logs (list_id, timestamp, level, message, metadata) VALUES ($1, $2, $3, $4, $5)",
		entry.ListID, entry.Timestamp, entry.Level, entry.Message, entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetLogs(ctx context.Context, listID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, list_id, timestamp, level, message, metadata
		FROM list_logs
		WHERE list_id = $1
		ORDER BY id ASC
	`
	rows, err := s.Pool.Query(ctx, query, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.ListID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *PostgresStore) Close() {
	s.Pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanList(row rowScanner) (*List, error) {
	var (
		list     List
		title    *string
		dataJSON []byte
		errMsg   *string
		session  *string
		userID   *string
	)
	err := row.Scan(&list.ID, &list.Prompt, &title, &list.Status, &dataJSON,
		&errMsg, &session, &userID, &list.CreatedAt, &list.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if title != nil {
		list.Title = *title
	}
	if errMsg != nil {
		list.Error = *errMsg
	}
	if session != nil {
		list.SessionID = *session
	}
	if userID != nil {
		list.UserID = *userID
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &list.Data); err != nil {
			return nil, fmt.Errorf("failed to decode list data: %w", err)
		}
	}
	return &list, nil
}

func collectLists(rows pgx.Rows) ([]List, error) {
	var lists []List
	for rows.Next() {
		list, err := scanList(rows)
		if err != nil {
			continue
		}
		lists = append(lists, *list)
	}
	return lists, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
