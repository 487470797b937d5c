package models

import "time"

// User owns files. Users are soft-disabled, never deleted, while files exist.
type User struct {
	ID           string
	Nickname     string
	Email        string
	PasswordHash string
	Confirmed    bool
	ConfirmedAt  *time.Time
	Disabled     bool
	CreatedAt    time.Time
}
