package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/llm"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// ============================================================================
// In-memory repositories shared by the service tests
// ============================================================================

type mockProjectRepo struct {
	mu        sync.Mutex
	projects  map[uuid.UUID]*models.Project
	createErr error
	getErr    error
	deleteErr error
}

func newMockProjectRepo() *mockProjectRepo {
	return &mockProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
}

func (m *mockProjectRepo) Create(ctx context.Context, project *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	now := time.Now().UTC()
	project.CreatedAt, project.UpdatedAt = now, now
	m.projects[project.ID] = project
	return nil
}

func (m *mockProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p, nil
}

func (m *mockProjectRepo) List(ctx context.Context) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Project, 0, len(m.projects))
	for _, p := range m.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.projects[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

// mockVersionRepo enforces label uniqueness like the real unique index.
// claimBeforeInsert simulates another process winning the next N labels.
type mockVersionRepo struct {
	mu                sync.Mutex
	versions          []*models.SrsVersion
	claimBeforeInsert int
	insertErr         error
	latestErr         error
	insertCalls       int
	pageCalls         int
}

func newMockVersionRepo() *mockVersionRepo {
	return &mockVersionRepo{}
}

func (m *mockVersionRepo) Insert(ctx context.Context, v *models.SrsVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	if m.insertErr != nil {
		return m.insertErr
	}
	if m.claimBeforeInsert > 0 {
		m.claimBeforeInsert--
		rival := *v
		rival.ID = uuid.New()
		rival.CreatedBy = "rival"
		m.versions = append(m.versions, &rival)
		return &apperrors.ConflictError{Resource: "version", Key: v.Label}
	}
	for _, existing := range m.versions {
		if existing.ProjectID == v.ProjectID && existing.Label == v.Label {
			return &apperrors.ConflictError{Resource: "version", Key: v.Label}
		}
	}
	v.ID = uuid.New()
	stored := *v
	stored.Body = v.Body.Clone()
	m.versions = append(m.versions, &stored)
	return nil
}

func (m *mockVersionRepo) GetLatest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latestErr != nil {
		return nil, m.latestErr
	}
	var latest *models.SrsVersion
	for _, v := range m.versions {
		if v.ProjectID == projectID && (latest == nil || v.CreatedAt.After(latest.CreatedAt)) {
			latest = v
		}
	}
	return latest, nil
}

func (m *mockVersionRepo) GetByLabel(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ProjectID == projectID && v.Label == label {
			return v, nil
		}
	}
	return nil, nil
}

func (m *mockVersionRepo) ListPage(ctx context.Context, projectID uuid.UUID, after time.Time, limit int) ([]*models.SrsVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls++
	var out []*models.SrsVersion
	for _, v := range m.versions {
		if v.ProjectID == projectID && v.CreatedAt.After(after) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockVersionRepo) count(projectID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.versions {
		if v.ProjectID == projectID {
			n++
		}
	}
	return n
}

type mockFactRepo struct {
	mu        sync.Mutex
	facts     map[string]*models.Fact
	upsertErr map[string]error
	getErr    error
	clock     time.Time
}

func newMockFactRepo() *mockFactRepo {
	return &mockFactRepo{
		facts:     make(map[string]*models.Fact),
		upsertErr: make(map[string]error),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func factKey(projectID uuid.UUID, key string) string {
	return projectID.String() + "/" + key
}

func (m *mockFactRepo) Upsert(ctx context.Context, fact *models.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.upsertErr[fact.Key]; err != nil {
		return err
	}
	m.clock = m.clock.Add(time.Second)
	k := factKey(fact.ProjectID, fact.Key)
	if existing, ok := m.facts[k]; ok {
		existing.Value = fact.Value
		existing.Kind = fact.Kind
		existing.UpdatedAt = m.clock
		*fact = *existing
		return nil
	}
	fact.ID = uuid.New()
	fact.CreatedAt, fact.UpdatedAt = m.clock, m.clock
	stored := *fact
	m.facts[k] = &stored
	return nil
}

func (m *mockFactRepo) GetByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []*models.Fact
	for _, f := range m.facts {
		if f.ProjectID == projectID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func (m *mockFactRepo) GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*models.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[factKey(projectID, key)]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

type mockChatTurnRepo struct {
	mu        sync.Mutex
	turns     []*models.ChatTurn
	createErr error
}

func newMockChatTurnRepo() *mockChatTurnRepo {
	return &mockChatTurnRepo{}
}

func (m *mockChatTurnRepo) Create(ctx context.Context, turn *models.ChatTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	turn.ID = uuid.New()
	turn.CreatedAt = time.Now().UTC()
	m.turns = append(m.turns, turn)
	return nil
}

func (m *mockChatTurnRepo) ListBySession(ctx context.Context, projectID uuid.UUID, sessionID string, limit int) ([]*models.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChatTurn
	for _, t := range m.turns {
		if t.ProjectID == projectID && t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockChatTurnRepo) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChatTurn
	for i := len(m.turns) - 1; i >= 0; i-- {
		if m.turns[i].ProjectID == projectID {
			out = append(out, m.turns[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *mockChatTurnRepo) all() []*models.ChatTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ChatTurn(nil), m.turns...)
}

type mockProposer struct {
	proposal *models.TurnProposal
	err      error
	requests []*llm.ProposalRequest
}

func (m *mockProposer) Propose(ctx context.Context, req *llm.ProposalRequest) (*models.TurnProposal, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.proposal, nil
}
