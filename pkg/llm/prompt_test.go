package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

func TestBuildSystemPrompt_ListsSections(t *testing.T) {
	prompt := BuildSystemPrompt()
	for _, section := range models.RequiredSections {
		assert.Contains(t, prompt, section)
	}
}

func TestBuildUserPrompt(t *testing.T) {
	req := &ProposalRequest{
		Latest: &models.SrsVersion{
			Label: "v1.2",
			Body: models.Document{
				models.SectionIntroduction:   "Online bookstore.",
				models.SectionSystemFeatures: "FR-1 Search books",
			},
		},
		Facts: []*models.Fact{
			{Key: "database_constraint", Value: "Must use PostgreSQL", Kind: models.FactKindConstraint},
		},
		History: []*models.ChatTurn{
			{UserMessage: "Start an SRS", AgentResponse: "Created the introduction."},
		},
		UserMessage: "Add checkout",
	}

	prompt := BuildUserPrompt(req)

	assert.Contains(t, prompt, "## Current document (v1.2)")
	assert.Contains(t, prompt, "### introduction\nOnline bookstore.")
	assert.Contains(t, prompt, "- database_constraint (constraint): Must use PostgreSQL")
	assert.Contains(t, prompt, "User: Start an SRS\nAssistant: Created the introduction.")
	assert.Contains(t, prompt, "Sections still missing: overall_description, external_interface, non_functional, appendices")
	assert.True(t, strings.HasSuffix(prompt, "## New message\n\nAdd checkout\n"))
}

func TestBuildUserPrompt_FirstTurn(t *testing.T) {
	prompt := BuildUserPrompt(&ProposalRequest{UserMessage: "Hello"})

	assert.Contains(t, prompt, "No version exists yet")
	assert.Contains(t, prompt, "Sections still missing: "+strings.Join(models.RequiredSections, ", "))
	assert.NotContains(t, prompt, "## Recorded facts")
}
