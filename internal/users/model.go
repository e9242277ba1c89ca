package users

import (
	"time"

	"github.com/google/uuid"
)

// User is an account allowed to call the registration API. Role is one of
// model.RoleAdmin, model.RoleRegistrar or model.RoleViewer.
type User struct {
	ID           uuid.UUID `json:"id"         db:"id"`
	Login        string    `json:"login"      db:"login"`
	PasswordHash string    `json:"-"          db:"password_hash"`
	Role         string    `json:"role"       db:"role"`
	Disabled     bool      `json:"disabled"   db:"disabled"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
