package tools

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

func TestRegisterSRSTools_ListsAllTools(t *testing.T) {
	tc := newToolTestContext(t)

	resultBytes, err := json.Marshal(tc.mcpServer.HandleMessage(t.Context(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Tools []struct {
				Name        string `json:"name"`
				InputSchema struct {
					Required []string `json:"required"`
				} `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(resultBytes, &response))

	found := make(map[string][]string)
	for _, tool := range response.Result.Tools {
		found[tool.Name] = tool.InputSchema.Required
	}
	for _, name := range []string{"get_srs", "update_srs", "remember_fact", "list_facts", "srs_history", "srs_diff"} {
		require.Contains(t, found, name)
		assert.Contains(t, found[name], "project_id", "tool %s", name)
	}
}

func TestUpdateSRS_AppliesAndGetSRSReadsBack(t *testing.T) {
	tc := newToolTestContext(t)

	var turn services.TurnResult
	tc.decode(tc.call("update_srs", map[string]any{
		"sections": map[string]any{models.SectionIntroduction: "A todo app."},
		"facts":    []any{map[string]any{"key": "db", "value": "Must use PostgreSQL", "kind": "constraint"}},
		"message":  "Start the SRS",
		"response": "Drafted the introduction.",
	}), &turn)

	assert.Equal(t, services.TurnApplied, turn.Outcome)
	require.NotNil(t, turn.Version)
	assert.Equal(t, "v1.0", turn.Version.Label)
	assert.Equal(t, "mcp", turn.Version.CreatedBy)
	assert.Equal(t, "Drafted the introduction.", turn.Turn.AgentResponse)

	var srs getSRSResponse
	tc.decode(tc.call("get_srs", map[string]any{}), &srs)
	assert.Equal(t, "v1.0", srs.Version.Label)
	assert.Equal(t, "A todo app.", srs.Version.Body[models.SectionIntroduction])
	assert.False(t, srs.Complete)
	assert.NotContains(t, srs.MissingSections, models.SectionIntroduction)

	tc.decode(tc.call("get_srs", map[string]any{"version": "v1.0"}), &srs)
	assert.Equal(t, "v1.0", srs.Version.Label)
}

func TestUpdateSRS_ConflictIsRejectedResult(t *testing.T) {
	tc := newToolTestContext(t)
	tc.call("remember_fact", map[string]any{"key": "db", "value": "Must use PostgreSQL", "kind": "constraint"})

	var turn services.TurnResult
	tc.decode(tc.call("update_srs", map[string]any{
		"facts": []any{map[string]any{"key": "db", "value": "Use SQLite instead", "kind": "constraint"}},
	}), &turn)

	assert.Equal(t, services.TurnRejected, turn.Outcome)
	require.NotEmpty(t, turn.Report.Reasons)
	assert.Equal(t, "db", turn.Report.Reasons[0].FactKey)

	var facts listFactsResponse
	tc.decode(tc.call("list_facts", map[string]any{}), &facts)
	require.Equal(t, 1, facts.Count)
	assert.Equal(t, "Must use PostgreSQL", facts.Facts[0].Value)
}

func TestUpdateSRS_PartialFailureIsErrorResult(t *testing.T) {
	tc := newToolTestContext(t)
	tc.failFactUpserts("broken")

	result := tc.call("update_srs", map[string]any{
		"sections": map[string]any{models.SectionIntroduction: "A todo app."},
		"facts": []any{
			map[string]any{"key": "broken", "value": "x", "kind": "preference"},
			map[string]any{"key": "fine", "value": "y", "kind": "preference"},
		},
	})

	resp := decodeErrorResult(t, result)
	assert.Equal(t, "partially_applied", resp.Code)
	assert.Contains(t, resp.Message, "v1.0 was saved")
	assert.Contains(t, resp.Message, "broken")

	detailBytes, err := json.Marshal(resp.Details)
	require.NoError(t, err)
	var details PartialTurnDetails
	require.NoError(t, json.Unmarshal(detailBytes, &details))
	assert.Equal(t, "v1.0", details.Version)
	require.NotNil(t, details.Result)
	require.Len(t, details.Result.Facts, 1)
	assert.Equal(t, "fine", details.Result.Facts[0].Key)

	// The version really was stored.
	var srs getSRSResponse
	tc.decode(tc.call("get_srs", map[string]any{}), &srs)
	assert.Equal(t, "v1.0", srs.Version.Label)
}

func TestUpdateSRS_InvalidArguments(t *testing.T) {
	tc := newToolTestContext(t)

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{name: "nothing to change", args: map[string]any{}, code: "validation_error"},
		{name: "sections is not an object", args: map[string]any{"sections": []any{"x"}}, code: "invalid_parameters"},
		{name: "bad fact kind", args: map[string]any{"facts": []any{map[string]any{"key": "k", "value": "v", "kind": "opinion"}}}, code: "validation_error"},
		{name: "bad project id", args: map[string]any{"project_id": "nope", "sections": map[string]any{"a": "b"}}, code: "invalid_parameters"},
		{name: "unknown project", args: map[string]any{"project_id": uuid.NewString(), "sections": map[string]any{"a": "b"}}, code: "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeErrorResult(t, tc.call("update_srs", tt.args))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestRememberFact(t *testing.T) {
	tc := newToolTestContext(t)

	var turn services.TurnResult
	tc.decode(tc.call("remember_fact", map[string]any{"key": " theme ", "value": "dark", "kind": "preference"}), &turn)
	assert.Equal(t, services.TurnApplied, turn.Outcome)
	assert.Nil(t, turn.Version)
	require.Len(t, turn.Facts, 1)
	assert.Equal(t, "theme", turn.Facts[0].Key)

	resp := decodeErrorResult(t, tc.call("remember_fact", map[string]any{"key": "  ", "value": "v", "kind": "preference"}))
	assert.Equal(t, "invalid_parameters", resp.Code)
}

func TestRememberFact_MissingRequiredArgument(t *testing.T) {
	tc := newToolTestContext(t)

	resp := decodeErrorResult(t, tc.call("remember_fact", map[string]any{"key": "db", "kind": "constraint"}))
	assert.Equal(t, "invalid_parameters", resp.Code)
}

func TestGetSRS_NoVersions(t *testing.T) {
	tc := newToolTestContext(t)

	resp := decodeErrorResult(t, tc.call("get_srs", map[string]any{}))
	assert.Equal(t, "version_not_found", resp.Code)

	resp = decodeErrorResult(t, tc.call("get_srs", map[string]any{"version": "1.0"}))
	assert.Equal(t, "validation_error", resp.Code)
}

func TestSRSHistoryAndDiff(t *testing.T) {
	tc := newToolTestContext(t)
	tc.call("update_srs", map[string]any{"sections": map[string]any{models.SectionIntroduction: "A todo app."}})
	tc.call("update_srs", map[string]any{"sections": map[string]any{models.SectionIntroduction: "A shared todo app."}})
	tc.call("update_srs", map[string]any{"sections": map[string]any{models.SectionAppendices: "None."}, "release": true})

	var history historyResponse
	tc.decode(tc.call("srs_history", map[string]any{}), &history)
	require.Equal(t, 3, history.Count)
	assert.Equal(t, "v1.0", history.Versions[0].Version)
	assert.Equal(t, "v1.1", history.Versions[1].Version)
	assert.Equal(t, "v2.0", history.Versions[2].Version)
	assert.Equal(t, "updated section "+models.SectionIntroduction, history.Versions[1].Changelog)

	tc.decode(tc.call("srs_history", map[string]any{"limit": 1}), &history)
	assert.Equal(t, 1, history.Count)

	var diff diffResponse
	tc.decode(tc.call("srs_diff", map[string]any{"from": "v1.0"}), &diff)
	assert.Equal(t, "v2.0", diff.To)
	assert.Equal(t, []services.SectionChange{
		{Kind: services.ChangeAdded, Section: models.SectionAppendices},
		{Kind: services.ChangeUpdated, Section: models.SectionIntroduction},
	}, diff.Changes)

	resp := decodeErrorResult(t, tc.call("srs_diff", map[string]any{"from": "v9.0"}))
	assert.Equal(t, "version_not_found", resp.Code)
}
