package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/llm"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories/sqlite"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// testStack wires the real services over a throwaway SQLite database and
// mounts every handler on one mux.
type testStack struct {
	t         *testing.T
	mux       *http.ServeMux
	projects  services.ProjectService
	facts     services.FactService
	versions  services.VersionService
	revision  services.RevisionService
	proposer  *stubProposer
	projectID uuid.UUID
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "srs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db, config.DatabaseTypeSQLite, zap.NewNop()))

	repos := sqlite.New(db)
	logger := zap.NewNop()
	s := &testStack{t: t, mux: http.NewServeMux(), proposer: &stubProposer{}}
	s.projects = services.NewProjectService(repos.Projects, logger)
	s.facts = services.NewFactService(repos.Facts, logger)
	s.versions = services.NewVersionService(repos.Versions, nil, services.VersionServiceConfig{MaxAppendAttempts: 3, HistoryPageSize: 2}, logger)
	s.revision = services.NewRevisionService(repos.Projects, s.versions, s.facts, repos.ChatTurns,
		services.NewConflictDetector(), s.proposer, 10, logger)

	NewProjectsHandler(s.projects, logger).RegisterRoutes(s.mux)
	NewFactsHandler(s.facts, logger).RegisterRoutes(s.mux)
	NewVersionsHandler(s.versions, logger).RegisterRoutes(s.mux)
	NewTurnsHandler(s.revision, logger).RegisterRoutes(s.mux)

	project, err := s.projects.Create(context.Background(), "Handler Test Project", "")
	require.NoError(t, err)
	s.projectID = project.ID
	return s
}

func (s *testStack) path(suffix string) string {
	return "/api/projects/" + s.projectID.String() + suffix
}

func (s *testStack) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

// applyRevision posts an explicit revise proposal and requires success.
func (s *testStack) applyRevision(delta models.Delta, facts ...models.ProposedFact) {
	s.t.Helper()
	rec := s.do(http.MethodPost, s.path("/turns"), ApplyTurnRequest{
		UserMessage: "update",
		Proposal:    &models.TurnProposal{Type: models.ProposalTypeRevise, Delta: delta, Facts: facts},
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
}

// decodeData unmarshals the data field of an ApiResponse into out.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

type stubProposer struct {
	proposal *models.TurnProposal
	err      error
}

func (p *stubProposer) Propose(ctx context.Context, req *llm.ProposalRequest) (*models.TurnProposal, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.proposal, nil
}
