package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories/sqlite"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// toolTestContext serves the SRS tools over real services and a throwaway SQLite database.
type toolTestContext struct {
	t         *testing.T
	mcpServer *server.MCPServer
	deps      *SRSToolDeps
	projectID uuid.UUID
	repos     *sqlite.Repositories
}

func newToolTestContext(t *testing.T) *toolTestContext {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "srs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db, config.DatabaseTypeSQLite, zap.NewNop()))

	logger := zap.NewNop()
	repos := sqlite.New(db)
	versions := services.NewVersionService(repos.Versions, nil, services.VersionServiceConfig{}, logger)
	facts := services.NewFactService(repos.Facts, logger)
	deps := &SRSToolDeps{
		Versions: versions,
		Facts:    facts,
		Revision: services.NewRevisionService(repos.Projects, versions, facts, repos.ChatTurns,
			services.NewConflictDetector(), nil, 0, logger),
		Logger: logger,
	}

	project, err := services.NewProjectService(repos.Projects, logger).Create(context.Background(), "MCP Tools", "")
	require.NoError(t, err)

	mcpServer := server.NewMCPServer("srs-test", "1.0.0", server.WithToolCapabilities(true))
	RegisterSRSTools(mcpServer, deps)

	return &toolTestContext{t: t, mcpServer: mcpServer, deps: deps, projectID: project.ID, repos: repos}
}

// failFactUpserts rebuilds the pipeline so that upserting key fails.
func (tc *toolTestContext) failFactUpserts(key string) {
	facts := &failingFactService{FactService: tc.deps.Facts, key: key}
	tc.deps.Revision = services.NewRevisionService(tc.repos.Projects, tc.deps.Versions, facts, tc.repos.ChatTurns,
		services.NewConflictDetector(), nil, 0, zap.NewNop())
}

type failingFactService struct {
	services.FactService
	key string
}

func (f *failingFactService) UpsertFact(ctx context.Context, projectID uuid.UUID, key, value string, kind models.FactKind) (*models.Fact, error) {
	if key == f.key {
		return nil, apperrors.Persistence("upsert fact", errors.New("connection reset by peer"))
	}
	return f.FactService.UpsertFact(ctx, projectID, key, value, kind)
}

// rpcError is a JSON-RPC level error returned by HandleMessage.
type rpcError struct {
	Code    int
	Message string
}

func (e *rpcError) Error() string { return e.Message }

// callTool executes an MCP tool via the server's HandleMessage method.
func callTool(t *testing.T, s *server.MCPServer, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqBytes, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "tools/call",
		"id":      1,
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	})
	require.NoError(t, err)

	resultBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqBytes))
	require.NoError(t, err)

	var response struct {
		Result *mcp.CallToolResult `json:"result,omitempty"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	if response.Error != nil {
		return nil, &rpcError{Code: response.Error.Code, Message: response.Error.Message}
	}
	return response.Result, nil
}

func (tc *toolTestContext) call(toolName string, arguments map[string]any) *mcp.CallToolResult {
	tc.t.Helper()
	if _, ok := arguments["project_id"]; !ok {
		arguments["project_id"] = tc.projectID.String()
	}
	result, err := callTool(tc.t, tc.mcpServer, toolName, arguments)
	require.NoError(tc.t, err)
	require.NotNil(tc.t, result)
	return result
}

// decode unmarshals the text content of a successful result into out.
func (tc *toolTestContext) decode(result *mcp.CallToolResult, out any) {
	tc.t.Helper()
	require.False(tc.t, result.IsError, getTextContent(result))
	require.NoError(tc.t, json.Unmarshal([]byte(getTextContent(result)), out))
}
