package models

import (
	"time"

	"github.com/google/uuid"
)

const RoleAdmin = "admin"

// SystemAdminID attributes work done by background jobs rather than a person.
var SystemAdminID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Admin struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Principal is the authenticated administrator a mutating call runs as.
type Principal struct {
	AdminID uuid.UUID
	Role    string
}

func (p Principal) IsAdmin() bool {
	return p.AdminID != uuid.Nil && p.Role == RoleAdmin
}
