package models

import "time"

// User is the stable identity record behind a user sender. ExternalID is the
// caller's key; upserts are idempotent on it.
type User struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id"`
	Name       string    `json:"name,omitempty"`
	Metadata   Meta      `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
