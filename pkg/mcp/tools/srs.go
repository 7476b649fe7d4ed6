// Package tools provides the MCP tools of the SRS engine.
package tools

import (
	"context"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

const (
	latestLabel       = "latest"
	defaultHistoryMax = 50
	historyHardMax    = 500
)

// SRSToolDeps contains dependencies for the SRS tools.
type SRSToolDeps struct {
	Versions services.VersionService
	Facts    services.FactService
	Revision services.RevisionService
	Logger   *zap.Logger
}

// RegisterSRSTools registers get_srs, update_srs, remember_fact, list_facts,
// srs_history and srs_diff.
func RegisterSRSTools(s *server.MCPServer, deps *SRSToolDeps) {
	registerGetSRSTool(s, deps)
	registerUpdateSRSTool(s, deps)
	registerRememberFactTool(s, deps)
	registerListFactsTool(s, deps)
	registerHistoryTool(s, deps)
	registerDiffTool(s, deps)
}

type getSRSResponse struct {
	Version         *models.SrsVersion `json:"version"`
	Complete        bool               `json:"complete"`
	MissingSections []string           `json:"missing_sections"`
}

func registerGetSRSTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"get_srs",
		mcp.WithDescription(
			"Get a version of the project's Software Requirements Specification. "+
				"Returns the section map, changelog and which IEEE 830 sections are still missing. "+
				"Omit 'version' for the latest.",
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithString("version", mcp.Description("Optional - version label such as 'v1.3'; defaults to latest")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}
		label := trimString(req.GetString("version", latestLabel))
		if label == "" {
			label = latestLabel
		}

		version, err := resolveVersion(ctx, deps, projectID, label)
		if err != nil {
			return serviceErrorResult(err)
		}
		if version == nil {
			return NewErrorResult("version_not_found", "no version "+label+" for this project"), nil
		}

		missing := version.Body.MissingSections()
		if missing == nil {
			missing = []string{}
		}
		return jsonResult(getSRSResponse{
			Version:         version,
			Complete:        len(missing) == 0,
			MissingSections: missing,
		})
	})
}

func registerUpdateSRSTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"update_srs",
		mcp.WithDescription(
			"Propose changes to the SRS as one conversational turn. "+
				"'sections' maps section names to their complete new content; sections not named are left untouched. "+
				"'facts' are durable facts to remember alongside the change. "+
				"The change is rejected, and nothing is stored, if it contradicts a remembered constraint; "+
				"the response then has outcome 'rejected' and explains why.",
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithObject("sections", mcp.Description("Section name to full replacement content")),
		mcp.WithArray("facts",
			mcp.Description("Optional - facts as {key, value, kind} with kind one of preference, requirement, constraint"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"key":   map[string]any{"type": "string"},
					"value": map[string]any{"type": "string"},
					"kind":  map[string]any{"type": "string", "enum": []string{"preference", "requirement", "constraint"}},
				},
				"required": []string{"key", "value", "kind"},
			}),
		),
		mcp.WithString("message", mcp.Description("Optional - the user message this change answers")),
		mcp.WithString("response", mcp.Description("Optional - what the agent says back to the user")),
		mcp.WithString("session_id", mcp.Description("Optional - conversation session; a new one is started when omitted")),
		mcp.WithBoolean("release", mcp.Description("Optional - start a new major version (v2.0, v3.0, ...)")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}

		proposal := &models.TurnProposal{
			Type:          models.ProposalTypeRevise,
			AgentResponse: req.GetString("response", ""),
			ReleaseBump:   req.GetBool("release", false),
		}
		if errResult := decodeArgument(req, "sections", &proposal.Delta); errResult != nil {
			return errResult, nil
		}
		if errResult := decodeArgument(req, "facts", &proposal.Facts); errResult != nil {
			return errResult, nil
		}

		return applyTurn(ctx, deps, &services.TurnRequest{
			ProjectID:   projectID,
			SessionID:   req.GetString("session_id", ""),
			UserMessage: req.GetString("message", ""),
			Proposal:    proposal,
			CreatedBy:   "mcp",
		})
	})
}

func registerRememberFactTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"remember_fact",
		mcp.WithDescription(
			"Remember a durable project fact (preference, requirement or constraint) keyed by a stable name. "+
				"A fact with the same key is overwritten, except that a stored constraint cannot be contradicted.",
		),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Stable fact key (e.g., 'database_constraint')")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Fact statement (e.g., 'Must use PostgreSQL')")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("One of preference, requirement, constraint"),
			mcp.Enum(string(models.FactKindPreference), string(models.FactKindRequirement), string(models.FactKindConstraint))),
		mcp.WithString("session_id", mcp.Description("Optional - conversation session")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}
		key, errResult := requireNonBlank(req, "key")
		if errResult != nil {
			return errResult, nil
		}
		value, errResult := requireNonBlank(req, "value")
		if errResult != nil {
			return errResult, nil
		}
		kind, errResult := requireNonBlank(req, "kind")
		if errResult != nil {
			return errResult, nil
		}

		return applyTurn(ctx, deps, &services.TurnRequest{
			ProjectID:   projectID,
			SessionID:   req.GetString("session_id", ""),
			UserMessage: "remember " + key,
			Proposal: &models.TurnProposal{
				Type:  models.ProposalTypeRevise,
				Facts: []models.ProposedFact{{Key: key, Value: value, Kind: models.FactKind(kind)}},
			},
			CreatedBy: "mcp",
		})
	})
}

type listFactsResponse struct {
	Facts []*models.Fact `json:"facts"`
	Count int            `json:"count"`
}

func registerListFactsTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"list_facts",
		mcp.WithDescription("List the remembered facts of a project, most recently updated first."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}

		facts, err := deps.Facts.GetFacts(ctx, projectID)
		if err != nil {
			return serviceErrorResult(err)
		}
		if facts == nil {
			facts = []*models.Fact{}
		}
		return jsonResult(listFactsResponse{Facts: facts, Count: len(facts)})
	})
}

type historyEntry struct {
	Version   string `json:"version"`
	Changelog string `json:"changelog"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
}

type historyResponse struct {
	Versions []historyEntry `json:"versions"`
	Count    int            `json:"count"`
}

func registerHistoryTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"srs_history",
		mcp.WithDescription("List SRS versions oldest first with their changelogs. Bodies are omitted; use get_srs for one version."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithNumber("limit", mcp.Description("Optional - maximum versions to return (default 50, max 500)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}
		limit := req.GetInt("limit", defaultHistoryMax)
		if limit < 1 {
			return NewErrorResult("invalid_parameters", "limit must be positive"), nil
		}
		if limit > historyHardMax {
			limit = historyHardMax
		}

		resp := historyResponse{Versions: []historyEntry{}}
		it := deps.Versions.History(projectID)
		for len(resp.Versions) < limit && it.Next(ctx) {
			v := it.Version()
			resp.Versions = append(resp.Versions, historyEntry{
				Version:   v.Label,
				Changelog: v.Changelog,
				CreatedBy: v.CreatedBy,
				CreatedAt: v.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
			})
		}
		if err := it.Err(); err != nil {
			return serviceErrorResult(err)
		}
		resp.Count = len(resp.Versions)
		return jsonResult(resp)
	})
}

type diffResponse struct {
	From      string                   `json:"from"`
	To        string                   `json:"to"`
	Changes   []services.SectionChange `json:"changes"`
	Changelog string                   `json:"changelog"`
}

func registerDiffTool(s *server.MCPServer, deps *SRSToolDeps) {
	tool := mcp.NewTool(
		"srs_diff",
		mcp.WithDescription("Compare two SRS versions section by section. Either label may be 'latest'."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("Project UUID")),
		mcp.WithString("from", mcp.Required(), mcp.Description("Older version label (e.g., 'v1.0')")),
		mcp.WithString("to", mcp.Description("Newer version label; defaults to latest")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, errResult := requireProjectID(req)
		if errResult != nil {
			return errResult, nil
		}
		fromLabel, errResult := requireNonBlank(req, "from")
		if errResult != nil {
			return errResult, nil
		}
		toLabel := trimString(req.GetString("to", latestLabel))
		if toLabel == "" {
			toLabel = latestLabel
		}

		from, err := resolveVersion(ctx, deps, projectID, fromLabel)
		if err != nil {
			return serviceErrorResult(err)
		}
		if from == nil {
			return NewErrorResult("version_not_found", "no version "+fromLabel+" for this project"), nil
		}
		to, err := resolveVersion(ctx, deps, projectID, toLabel)
		if err != nil {
			return serviceErrorResult(err)
		}
		if to == nil {
			return NewErrorResult("version_not_found", "no version "+toLabel+" for this project"), nil
		}

		changes := services.Changes(from.Body, to.Body)
		if changes == nil {
			changes = []services.SectionChange{}
		}
		return jsonResult(diffResponse{
			From:      from.Label,
			To:        to.Label,
			Changes:   changes,
			Changelog: services.Diff(from.Body, to.Body),
		})
	})
}

func resolveVersion(ctx context.Context, deps *SRSToolDeps, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	if label == latestLabel {
		return deps.Versions.Latest(ctx, projectID)
	}
	return deps.Versions.Get(ctx, projectID, label)
}

// applyTurn runs one turn through the revision pipeline. A partially applied
// turn is an error result whose details carry what was stored.
func applyTurn(ctx context.Context, deps *SRSToolDeps, req *services.TurnRequest) (*mcp.CallToolResult, error) {
	result, err := deps.Revision.ApplyTurn(ctx, req)
	if err != nil {
		if result != nil {
			deps.Logger.Warn("Turn partially applied",
				zap.String("project_id", req.ProjectID.String()),
				zap.Error(err))
			return partialTurnResult(result, err), nil
		}
		return serviceErrorResult(err)
	}
	return jsonResult(result)
}
