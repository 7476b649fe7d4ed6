// Package models contains domain types for ekaya-srs.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is the root aggregate. Versions, facts and chat turns belong to a
// project and are removed with it.
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
