package llm

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

const systemPrompt = `You are a requirements engineer helping a user build a Software Requirements
Specification (SRS) that follows IEEE 830. The document is a set of named sections:
%s.

On every turn decide whether the user's message changes the document or only needs a reply.
Reply with ONLY a JSON object of this shape:

{
  "type": "chat" | "revise",
  "agent_response": "what you say to the user",
  "delta": {"<section name>": "<full new content of that section>"},
  "facts": [{"key": "snake_case_key", "value": "...", "kind": "preference" | "requirement" | "constraint"}],
  "release_bump": false
}

Rules:
- Use "chat" with no delta and no facts when nothing changes.
- A section listed in "delta" replaces the whole section, so repeat the parts that stay.
- Never list sections that do not change.
- Record durable decisions as facts. Use kind "constraint" only for hard limits the user imposed.
- Reuse an existing fact key when the user restates or changes that decision.
- Set "release_bump" only when the user explicitly asks to release a new major version.`

// BuildSystemPrompt returns the instructions sent with every proposal request.
func BuildSystemPrompt() string {
	return fmt.Sprintf(systemPrompt, strings.Join(models.RequiredSections, ", "))
}

// BuildUserPrompt renders the current document, facts and recent conversation
// followed by the new user message.
func BuildUserPrompt(req *ProposalRequest) string {
	var b strings.Builder

	if req.Latest == nil {
		b.WriteString("## Current document\n\nNo version exists yet. Start the document from this conversation.\n\n")
	} else {
		fmt.Fprintf(&b, "## Current document (%s)\n\n", req.Latest.Label)
		for _, name := range req.Latest.Body.SectionNames() {
			fmt.Fprintf(&b, "### %s\n%s\n\n", name, req.Latest.Body[name])
		}
	}

	var body models.Document
	if req.Latest != nil {
		body = req.Latest.Body
	}
	if missing := body.MissingSections(); len(missing) > 0 {
		fmt.Fprintf(&b, "Sections still missing: %s\n\n", strings.Join(missing, ", "))
	}

	if len(req.Facts) > 0 {
		b.WriteString("## Recorded facts\n\n")
		for _, f := range req.Facts {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.Key, f.Kind, f.Value)
		}
		b.WriteString("\n")
	}

	if len(req.History) > 0 {
		b.WriteString("## Conversation so far\n\n")
		for _, turn := range req.History {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", turn.UserMessage, turn.AgentResponse)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## New message\n\n%s\n", req.UserMessage)
	return b.String()
}
