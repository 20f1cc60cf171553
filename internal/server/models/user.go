package models

import "time"

// User is the identity anchor. Email is the unique lookup key; the password
// hash belongs to the auth collaborator and never leaves the server.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	RegisteredAt time.Time
}

// Profile is the user view returned to the presentation layer.
type Profile struct {
	Email           string        `json:"email"`
	RegisteredAt    time.Time     `json:"registeredAt"`
	LoginTimestamps []time.Time   `json:"loginTimestamps"`
	Files           []*FileRecord `json:"files"`
}
