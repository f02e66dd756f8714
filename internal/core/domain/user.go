package domain

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         Role      `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Caller is the identity resolved by the access gate for one request.
type Caller struct {
	UserID   int64
	Username string
	Role     Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}
