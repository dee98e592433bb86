package users

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePlayer Role = "player"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleAdmin
}

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Caller is the identity a request acts as.
type Caller struct {
	ID   uuid.UUID
	Role Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}
