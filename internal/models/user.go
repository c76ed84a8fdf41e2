package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account allowed to mutate the registry.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Username     string    `db:"username" json:"username"`
	PasswordHash string    `db:"password_hash" json:"-"` // argon2id, encoded
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
