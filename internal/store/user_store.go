package store

import (
	"context"

	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type UserStore struct {
	db *sqlx.DB
}

const (
	getUserQuery    = "SELECT id, username, email, role, created_at FROM users WHERE id = ?"
	upsertUserQuery = `
		INSERT INTO users (id, username, email, role, created_at) VALUES
		(:id, :username, :email, :role, :created_at)
		ON CONFLICT (id) DO UPDATE SET
		username = excluded.username,
		email = excluded.email,
		role = excluded.role
	`
)

func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) GetUser(ctx context.Context, id uuid.UUID) (*users.User, error) {
	var user users.User
	err := s.db.GetContext(ctx, &user, getUserQuery, id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *UserStore) UpsertUser(ctx context.Context, user *users.User) error {
	_, err := s.db.NamedExecContext(ctx, upsertUserQuery, user)
	return err
}
