// Package models defines the records persisted by the file registry.
package models

import "time"

// File is the metadata of one encrypted blob. Status mirrors the latest
// history entry and only changes through the registry's AppendStatus.
type File struct {
	ID       string
	UserID   string
	Location string // object-storage key of the ciphertext
	Filename string
	FileType string
	// SizeBytes is the plaintext size.
	SizeBytes int64
	// WrappedKey is the content key sealed under the owner's master key.
	WrappedKey []byte
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// DeletedAt is set once the owner deleted the ciphertext. The status
	// history is kept.
	DeletedAt *time.Time
}

// StatusHistory is one append-only lifecycle entry. (FileID, Status) is unique.
type StatusHistory struct {
	ID        int64
	FileID    string
	Status    Status
	CreatedAt time.Time
}
