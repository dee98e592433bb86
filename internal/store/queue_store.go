package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/bracket"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrDuplicateEntry = errors.New("user already has an entry in this queue")

const listQueueQuery = `
	SELECT q.queue, q.user_id, q.requested_at, u.username, u.email
	FROM join_queue q
	LEFT JOIN users u ON u.id = q.user_id
	WHERE q.queue = ?
	ORDER BY q.requested_at ASC, q.user_id ASC`

// QueueStore persists every join queue in one table keyed by (queue, user).
type QueueStore struct {
	db *sqlx.DB
}

func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) ext(q sqlx.ExtContext) sqlx.ExtContext {
	if q == nil {
		return s.db
	}
	return q
}

func (s *QueueStore) Add(ctx context.Context, q sqlx.ExtContext, queue string, userID uuid.UUID, requestedAt time.Time) error {
	_, err := s.ext(q).ExecContext(ctx,
		"INSERT INTO join_queue (queue, user_id, requested_at) VALUES (?, ?, ?)",
		queue, userID, requestedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEntry
	}
	return err
}

func (s *QueueStore) List(ctx context.Context, q sqlx.ExtContext, queue string) ([]bracket.QueueEntry, error) {
	entries := []bracket.QueueEntry{}
	err := sqlx.SelectContext(ctx, s.ext(q), &entries, listQueueQuery, queue)
	return entries, err
}

// Present returns the subset of userIDs that currently have an entry in queue.
func (s *QueueStore) Present(ctx context.Context, q sqlx.ExtContext, queue string, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	q = s.ext(q)
	query, args, err := sqlx.In("SELECT user_id FROM join_queue WHERE queue = ? AND user_id IN (?)", queue, uuidStrings(userIDs))
	if err != nil {
		return nil, err
	}
	var present []uuid.UUID
	if err := sqlx.SelectContext(ctx, q, &present, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to look up queue entries: %w", err)
	}
	return present, nil
}

// Remove deletes the entries of userIDs from queue and reports which ones existed.
// Absent ids are ignored.
func (s *QueueStore) Remove(ctx context.Context, q sqlx.ExtContext, queue string, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	q = s.ext(q)
	present, err := s.Present(ctx, q, queue, userIDs)
	if err != nil || len(present) == 0 {
		return present, err
	}
	query, args, err := sqlx.In("DELETE FROM join_queue WHERE queue = ? AND user_id IN (?)", queue, uuidStrings(present))
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to remove queue entries: %w", err)
	}
	return present, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
