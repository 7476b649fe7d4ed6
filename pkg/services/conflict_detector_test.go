package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

func dbConstraint() []*models.Fact {
	return []*models.Fact{{
		Key:   "database_constraint",
		Value: "Must use PostgreSQL",
		Kind:  models.FactKindConstraint,
	}}
}

func TestConflictDetector_ConstraintFactOverwritten(t *testing.T) {
	d := NewConflictDetector()

	report := d.Evaluate(nil, nil, dbConstraint(), []models.ProposedFact{{
		Key:   "database_constraint",
		Value: "Use SQLite instead",
		Kind:  models.FactKindConstraint,
	}})

	require.True(t, report.IsConflicting())
	require.Len(t, report.Reasons, 1)
	assert.Equal(t, "database_constraint", report.Reasons[0].FactKey)
	assert.Contains(t, report.Explain(), "database_constraint")
}

func TestConflictDetector_ProtectionKeyedOnStoredKind(t *testing.T) {
	d := NewConflictDetector()

	report := d.Evaluate(nil, nil, dbConstraint(), []models.ProposedFact{{
		Key:   "database_constraint",
		Value: "Use SQLite instead",
		Kind:  models.FactKindPreference,
	}})

	require.True(t, report.IsConflicting())
	assert.Equal(t, "database_constraint", report.Reasons[0].FactKey)
}

func TestConflictDetector_FactCases(t *testing.T) {
	tests := []struct {
		name        string
		stored      *models.Fact
		proposed    models.ProposedFact
		conflicting bool
	}{
		{
			name:        "restating a constraint with different spacing and case",
			stored:      &models.Fact{Key: "db", Value: "Must use PostgreSQL", Kind: models.FactKindConstraint},
			proposed:    models.ProposedFact{Key: "db", Value: "must use   postgresql", Kind: models.FactKindConstraint},
			conflicting: false,
		},
		{
			name:        "refining a constraint that contains the old value",
			stored:      &models.Fact{Key: "db", Value: "Must use PostgreSQL", Kind: models.FactKindConstraint},
			proposed:    models.ProposedFact{Key: "db", Value: "Must use PostgreSQL 16 or newer", Kind: models.FactKindConstraint},
			conflicting: false,
		},
		{
			name:        "preference may be overwritten freely",
			stored:      &models.Fact{Key: "ui_theme", Value: "dark", Kind: models.FactKindPreference},
			proposed:    models.ProposedFact{Key: "ui_theme", Value: "light", Kind: models.FactKindPreference},
			conflicting: false,
		},
		{
			name:        "requirement may be overwritten freely",
			stored:      &models.Fact{Key: "users", Value: "100 users", Kind: models.FactKindRequirement},
			proposed:    models.ProposedFact{Key: "users", Value: "10000 users", Kind: models.FactKindConstraint},
			conflicting: false,
		},
		{
			name:        "new key never conflicts",
			stored:      &models.Fact{Key: "db", Value: "Must use PostgreSQL", Kind: models.FactKindConstraint},
			proposed:    models.ProposedFact{Key: "cache", Value: "No Redis", Kind: models.FactKindConstraint},
			conflicting: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewConflictDetector().Evaluate(nil, nil, []*models.Fact{tt.stored}, []models.ProposedFact{tt.proposed})
			assert.Equal(t, tt.conflicting, report.IsConflicting(), report.ReasonStrings())
		})
	}
}

func TestConflictDetector_SectionCases(t *testing.T) {
	current := models.Document{
		models.SectionExternalInterface: "The service exposes a REST API. Storage must use PostgreSQL for all data.",
		models.SectionIntroduction:      "A task tracker.",
	}

	tests := []struct {
		name        string
		delta       models.Delta
		conflicting bool
		section     string
	}{
		{
			name: "section drops the constraint statement",
			delta: models.Delta{
				models.SectionExternalInterface: "The service exposes a REST API. Storage uses SQLite.",
			},
			conflicting: true,
			section:     models.SectionExternalInterface,
		},
		{
			name: "section negates the constraint statement",
			delta: models.Delta{
				models.SectionExternalInterface: "The service exposes a REST API. Storage must not use PostgreSQL.",
			},
			conflicting: true,
			section:     models.SectionExternalInterface,
		},
		{
			name: "section keeps the constraint and adds detail",
			delta: models.Delta{
				models.SectionExternalInterface: "The service exposes a REST and gRPC API. Storage must use PostgreSQL for all data.",
			},
			conflicting: false,
		},
		{
			name: "untouched sections are not checked",
			delta: models.Delta{
				models.SectionIntroduction: "A shared task tracker for teams.",
			},
			conflicting: false,
		},
		{
			name: "new section has nothing to contradict",
			delta: models.Delta{
				models.SectionAppendices: "We will not use PostgreSQL in the prototype.",
			},
			conflicting: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := NewConflictDetector().Evaluate(current, tt.delta, dbConstraint(), nil)
			require.Equal(t, tt.conflicting, report.IsConflicting(), report.ReasonStrings())
			if tt.conflicting {
				assert.Equal(t, tt.section, report.Reasons[0].Section)
				assert.Equal(t, "database_constraint", report.Reasons[0].FactKey)
			}
		})
	}
}

func TestConflictDetector_ExistingNegationIsNotNew(t *testing.T) {
	current := models.Document{
		models.SectionNonFunctional: "The app must not use PostgreSQL extensions beyond core.",
	}
	facts := []*models.Fact{{Key: "pg_ext", Value: "use PostgreSQL extensions", Kind: models.FactKindConstraint}}

	report := NewConflictDetector().Evaluate(current, models.Delta{
		models.SectionNonFunctional: "The app must not use PostgreSQL extensions beyond core. Latency under 200ms.",
	}, facts, nil)

	assert.False(t, report.IsConflicting(), report.ReasonStrings())
}

func TestConflictDetector_Compatible(t *testing.T) {
	report := NewConflictDetector().Evaluate(nil, models.Delta{"intro": "hello"}, nil, []models.ProposedFact{{
		Key: "audience", Value: "students", Kind: models.FactKindRequirement,
	}})

	assert.Equal(t, models.ConflictStatusCompatible, report.Status)
	assert.Empty(t, report.Reasons)
	assert.Empty(t, report.Explain())
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("First one. Second one!\nThird; fourth?  ")
	assert.Equal(t, []string{"First one", "Second one", "Third", "fourth"}, got)
}
