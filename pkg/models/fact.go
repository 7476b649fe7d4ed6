package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
)

// FactKind classifies a long-term fact.
type FactKind string

const (
	FactKindPreference  FactKind = "preference"
	FactKindRequirement FactKind = "requirement"
	FactKindConstraint  FactKind = "constraint"
)

// ValidFactKinds lists all accepted kinds.
var ValidFactKinds = []FactKind{FactKindPreference, FactKindRequirement, FactKindConstraint}

// IsValid reports whether k is one of the enumerated kinds.
func (k FactKind) IsValid() bool {
	switch k {
	case FactKindPreference, FactKindRequirement, FactKindConstraint:
		return true
	}
	return false
}

// ParseFactKind normalizes s and returns a ValidationError for unknown kinds.
func ParseFactKind(s string) (FactKind, error) {
	k := FactKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", apperrors.NewValidationError("kind",
			fmt.Sprintf("%q is not one of preference, requirement, constraint", s))
	}
	return k, nil
}

// Fact is a project-scoped key/value datum learned from conversation.
// At most one fact exists per (project, key).
type Fact struct {
	ID        uuid.UUID `json:"id"`
	ProjectID uuid.UUID `json:"project_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Kind      FactKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProposedFact is a candidate fact produced by the model collaborator.
type ProposedFact struct {
	Key   string   `json:"key" validate:"required,nonblank,max=255"`
	Value string   `json:"value" validate:"required,nonblank"`
	Kind  FactKind `json:"kind" validate:"required,oneof=preference requirement constraint"`
}
