package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

type cliHarness struct {
	t      *testing.T
	dir    string
	dbPath string
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	return &cliHarness{t: t, dir: dir, dbPath: filepath.Join(dir, "srs.db")}
}

func (h *cliHarness) load(string) (*config.Config, error) {
	return &config.Config{
		Database: config.DatabaseConfig{Type: config.DatabaseTypeSQLite, SQLitePath: h.dbPath},
		Engine:   config.EngineConfig{MaxAppendAttempts: 3, HistoryPageSize: 2},
		LLM:      config.LLMConfig{Provider: config.LLMProviderOpenAI},
	}, nil
}

// run executes one srsctl invocation against a fresh process-like app.
func (h *cliHarness) run(args ...string) (string, error) {
	var out bytes.Buffer
	app := newCLIApp(h.load, &out)
	err := app.Run(append([]string{"srsctl"}, args...))
	return out.String(), err
}

func (h *cliHarness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	require.NoError(h.t, err, out)
	return out
}

func (h *cliHarness) createProject(name string) string {
	h.t.Helper()
	var project models.Project
	require.NoError(h.t, json.Unmarshal([]byte(h.mustRun("projects", "create", "--name", name)), &project))
	return project.ID.String()
}

func (h *cliHarness) writeFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	return exitErr.ExitCode()
}

func TestCLIProjects(t *testing.T) {
	h := newCLIHarness(t)

	id := h.createProject("Todo App")

	var projects []models.Project
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("projects", "list")), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, "Todo App", projects[0].Name)

	h.mustRun("projects", "delete", id)

	require.NoError(t, json.Unmarshal([]byte(h.mustRun("projects", "list")), &projects))
	assert.Empty(t, projects)

	_, err := h.run("projects", "delete", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[not_found]")
}

func TestCLIImportShowHistoryDiff(t *testing.T) {
	h := newCLIHarness(t)
	id := h.createProject("Planner")

	first := h.writeFile("v1.yaml", `
message: initial draft
sections:
  introduction: A shared planner.
  system_features: FR-1 Create tasks.
facts:
  - key: database
    value: Must use PostgreSQL
    kind: constraint
`)
	var result services.TurnResult
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("import", "--file", first, id)), &result))
	assert.Equal(t, services.TurnApplied, result.Outcome)
	require.NotNil(t, result.Version)
	assert.Equal(t, "v1.0", result.Version.Label)
	assert.Equal(t, "srsctl", result.Version.CreatedBy)

	second := h.writeFile("v2.json", `{"sections": {"system_features": "FR-1 Create tasks.\nFR-2 Share tasks.", "appendices": "None."}}`)
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("import", "-f", second, id)), &result))
	assert.Equal(t, "v1.1", result.Version.Label)

	var latest models.SrsVersion
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("show", id)), &latest))
	assert.Equal(t, "v1.1", latest.Label)
	assert.Equal(t, "A shared planner.", latest.Body[models.SectionIntroduction])

	var v1 models.SrsVersion
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("show", id, "v1.0")), &v1))
	assert.NotContains(t, v1.Body, models.SectionAppendices)

	var history []historyEntry
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("history", id)), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "v1.0", history[0].Label)
	assert.Equal(t, "v1.1", history[1].Label)

	require.NoError(t, json.Unmarshal([]byte(h.mustRun("history", "--limit", "1", id)), &history))
	assert.Len(t, history, 1)

	var diff diffOutput
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("diff", id, "v1.0")), &diff))
	assert.Equal(t, "v1.1", diff.To)
	assert.Equal(t, "added section appendices\nupdated section system_features", diff.Changelog)

	var facts []models.Fact
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("facts", id)), &facts))
	require.Len(t, facts, 1)
	assert.Equal(t, models.FactKindConstraint, facts[0].Kind)
}

func TestCLIImportRejectedConflict(t *testing.T) {
	h := newCLIHarness(t)
	id := h.createProject("Planner")

	h.mustRun("import", "--file", h.writeFile("v1.yaml", `
sections:
  external_interface: Storage must use PostgreSQL.
facts:
  - {key: database, value: Must use PostgreSQL, kind: constraint}
`), id)

	out, err := h.run("import", "--file", h.writeFile("bad.yaml", `
facts:
  - {key: database, value: Use SQLite instead, kind: constraint}
`), id)
	require.Error(t, err)
	assert.Equal(t, exitRejected, exitCode(t, err))

	var result services.TurnResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, services.TurnRejected, result.Outcome)
	assert.Nil(t, result.Version)

	var facts []models.Fact
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("facts", id)), &facts))
	require.Len(t, facts, 1)
	assert.Equal(t, "Must use PostgreSQL", facts[0].Value)
}

func TestCLIErrorHandling(t *testing.T) {
	h := newCLIHarness(t)
	id := h.createProject("Errors")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing project id", args: []string{"facts"}, wantErr: "[validation_error]"},
		{name: "malformed project id", args: []string{"history", "not-a-uuid"}, wantErr: "[validation_error]"},
		{name: "no versions yet", args: []string{"show", id}, wantErr: "[not_found]"},
		{name: "malformed label", args: []string{"show", id, "1.0"}, wantErr: "[validation_error]"},
		{name: "diff without from", args: []string{"diff", id}, wantErr: "[validation_error]"},
		{name: "negative limit", args: []string{"history", "--limit", "-1", id}, wantErr: "[validation_error]"},
		{name: "missing import file", args: []string{"import", "--file", filepath.Join(h.dir, "nope.yaml"), id}, wantErr: "failed to read"},
		{name: "unparseable import file", args: []string{"import", "--file", h.writeFile("bad.yaml", "sections: [unclosed"), id}, wantErr: "[validation_error]"},
		{name: "bad fact kind", args: []string{"import", "--file", h.writeFile("kind.yaml", "facts:\n  - {key: k, value: v, kind: opinion}\n"), id}, wantErr: "[validation_error]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, 1, exitCode(t, err))
		})
	}
}

func TestCLIMigrate(t *testing.T) {
	h := newCLIHarness(t)

	var out map[string]string
	require.NoError(t, json.Unmarshal([]byte(h.mustRun("migrate")), &out))
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, config.DatabaseTypeSQLite, out["database"])

	_, err := os.Stat(h.dbPath)
	assert.NoError(t, err)
}

func TestImportDocumentProposal(t *testing.T) {
	doc := importDocument{
		Release:  true,
		Sections: map[string]string{"introduction": "x"},
	}
	doc.Facts = append(doc.Facts, struct {
		Key   string `yaml:"key"`
		Value string `yaml:"value"`
		Kind  string `yaml:"kind"`
	}{Key: "k", Value: "v", Kind: " Constraint "})

	p := doc.proposal()
	assert.Equal(t, models.ProposalTypeRevise, p.Type)
	assert.True(t, p.ReleaseBump)
	assert.Equal(t, models.FactKindConstraint, p.Facts[0].Kind)
	assert.Equal(t, "x", p.Delta["introduction"])
}
