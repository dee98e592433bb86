package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/AdamBeresnev/op-tournament/internal/store"
	users "github.com/AdamBeresnev/op-tournament/internal/user"
	"github.com/google/uuid"
)

type UserService struct {
	store *store.UserStore
	now   func() time.Time
}

func NewUserService(store *store.UserStore) *UserService {
	return &UserService{store: store, now: time.Now}
}

type Identity struct {
	ID       uuid.UUID
	Username string
	Email    string
	Role     users.Role
}

// EnsureUser records the latest profile for an authenticated identity so notifications
// and conflict listings can show names and addresses.
func (s *UserService) EnsureUser(ctx context.Context, id Identity) (*users.User, error) {
	if id.ID == uuid.Nil {
		return nil, validationError("user id is required")
	}
	if id.Role == "" {
		id.Role = users.RolePlayer
	}
	if !id.Role.Valid() {
		return nil, validationError("unknown role %q", id.Role)
	}

	user, err := s.store.GetUser(ctx, id.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		user = &users.User{ID: id.ID, CreatedAt: s.now().UTC()}
	case err != nil:
		return nil, err
	}

	if name := strings.TrimSpace(id.Username); name != "" {
		user.Username = name
	}
	if email := strings.TrimSpace(id.Email); email != "" {
		user.Email = email
	}
	user.Role = id.Role

	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*users.User, error) {
	user, err := s.store.GetUser(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return user, err
}
