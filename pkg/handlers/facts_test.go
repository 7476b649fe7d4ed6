package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

func TestFactsHandler_PutGetList(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodPut, s.path("/facts/database_constraint"), PutFactRequest{Value: "Must use PostgreSQL", Kind: "constraint"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fact models.Fact
	decodeData(t, rec, &fact)
	assert.Equal(t, models.FactKindConstraint, fact.Kind)

	// Direct writes overwrite even protected facts.
	rec = s.do(http.MethodPut, s.path("/facts/database_constraint"), PutFactRequest{Value: "Use SQLite", Kind: "constraint"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, s.path("/facts/database_constraint"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &fact)
	assert.Equal(t, "Use SQLite", fact.Value)

	rec = s.do(http.MethodGet, s.path("/facts"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list FactListResponse
	decodeData(t, rec, &list)
	assert.Equal(t, 1, list.Total)
}

func TestFactsHandler_GetMissing(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodGet, s.path("/facts/nope"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "fact_not_found", decodeError(t, rec))
}

func TestFactsHandler_PutValidation(t *testing.T) {
	s := newTestStack(t)

	tests := []struct {
		name string
		body any
		code string
	}{
		{name: "unknown kind", body: PutFactRequest{Value: "v", Kind: "opinion"}, code: "validation_error"},
		{name: "malformed body", body: "not an object", code: "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPut, s.path("/facts/k"), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec))
		})
	}
}

func TestFactsHandler_EmptyListIsArray(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(http.MethodGet, s.path("/facts"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"facts":[]`)
}
