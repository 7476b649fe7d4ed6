package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/llm"
	"github.com/ekaya-inc/ekaya-srs/pkg/metrics"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

// ErrProposerUnavailable is returned by Converse when no model is configured.
var ErrProposerUnavailable = errors.New("no model collaborator is configured")

// TurnOutcome is the terminal state of a turn that reached evaluation.
type TurnOutcome string

const (
	TurnApplied  TurnOutcome = "applied"
	TurnRejected TurnOutcome = "rejected"
)

// TurnRequest is one conversational turn with an explicit proposal.
type TurnRequest struct {
	ProjectID   uuid.UUID
	SessionID   string // generated when empty
	UserMessage string
	Proposal    *models.TurnProposal
	CreatedBy   string
}

// ChatRequest is a turn whose proposal comes from the model collaborator.
type ChatRequest struct {
	ProjectID   uuid.UUID
	SessionID   string
	UserMessage string
	CreatedBy   string
}

// TurnResult is what ApplyTurn returns. Version is nil for rejected and
// chat-only turns.
type TurnResult struct {
	Outcome TurnOutcome           `json:"outcome"`
	Version *models.SrsVersion    `json:"version,omitempty"`
	Report  models.ConflictReport `json:"report"`
	Facts   []*models.Fact        `json:"facts,omitempty"`
	Turn    *models.ChatTurn      `json:"turn"`
}

// RevisionService is the revision pipeline: it evaluates a proposed change
// against the current state and either applies or rejects it. Every call
// that names an existing project records exactly one ChatTurn.
type RevisionService interface {
	// ApplyTurn evaluates and applies req.Proposal. A conflicting proposal is
	// not an error: the result carries TurnRejected and the report.
	// On partial failure (version appended but a fact upsert failed) both the
	// result and a *apperrors.PersistenceError are returned.
	ApplyTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error)
	// Converse asks the model collaborator for a proposal and applies it.
	Converse(ctx context.Context, req *ChatRequest) (*TurnResult, error)
	// SessionTurns returns a session's turns oldest first.
	SessionTurns(ctx context.Context, projectID uuid.UUID, sessionID string) ([]*models.ChatTurn, error)
	// RecentTurns returns the latest turns of a project across sessions, newest first.
	RecentTurns(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error)
}

type revisionService struct {
	projects       repositories.ProjectRepository
	versions       VersionService
	facts          FactService
	turns          repositories.ChatTurnRepository
	detector       ConflictDetector
	proposer       llm.Proposer
	historyTurns   int
	rebaseAttempts int
	now            func() time.Time
	logger         *zap.Logger
}

// NewRevisionService creates the revision pipeline. proposer may be nil, in
// which case only ApplyTurn is available.
func NewRevisionService(
	projects repositories.ProjectRepository,
	versions VersionService,
	facts FactService,
	turns repositories.ChatTurnRepository,
	detector ConflictDetector,
	proposer llm.Proposer,
	historyTurns int,
	logger *zap.Logger,
) RevisionService {
	if detector == nil {
		detector = NewConflictDetector()
	}
	return &revisionService{
		projects:       projects,
		versions:       versions,
		facts:          facts,
		turns:          turns,
		detector:       detector,
		proposer:       proposer,
		historyTurns:   historyTurns,
		rebaseAttempts: defaultRebaseAttempts,
		now:            time.Now,
		logger:         logger.Named("revision"),
	}
}

// defaultRebaseAttempts bounds how often one turn is evaluated again after
// other turns appended versions first.
const defaultRebaseAttempts = 3

var _ RevisionService = (*revisionService)(nil)

func (s *revisionService) ApplyTurn(ctx context.Context, req *TurnRequest) (result *TurnResult, err error) {
	ctx, span := tracer.Start(ctx, "revision.ApplyTurn",
		trace.WithAttributes(attribute.String("project_id", req.ProjectID.String())))
	defer span.End()
	start := s.now()

	// Turns reference the project, so an unknown project cannot be recorded.
	if _, err := s.projects.Get(ctx, req.ProjectID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "project lookup failed")
		return nil, apperrors.Persistence("get project", err)
	}

	turn := &models.ChatTurn{
		ProjectID:   req.ProjectID,
		SessionID:   sessionOrNew(req.SessionID),
		UserMessage: req.UserMessage,
	}
	outcome := metrics.OutcomeFailed

	defer func() {
		if err != nil && turn.AgentResponse == "" {
			turn.AgentResponse = "The change could not be applied: " + err.Error()
		}
		if recErr := s.record(ctx, turn); recErr != nil {
			outcome = metrics.OutcomeFailed
			if err == nil {
				result, err = nil, recErr
			} else {
				err = errors.Join(err, recErr)
			}
		}
		if result != nil {
			result.Turn = turn
		}

		metrics.ObserveTurn(outcome, s.now().Sub(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
		}
	}()

	proposal := req.Proposal
	if proposal == nil {
		turn.ToolCalls = append(turn.ToolCalls, s.toolCall(models.ToolChat, "", "", errNoProposal))
		return nil, apperrors.NewValidationError("proposal", "proposal is required")
	}
	proposal.Normalize()
	if err := proposal.Validate(); err != nil {
		turn.ToolCalls = append(turn.ToolCalls, s.toolCall(primaryTool(proposal), "", "", err))
		turn.AgentResponse = "The proposed change was malformed and was not applied: " + err.Error()
		return nil, err
	}

	// Evaluation and merge are only valid against the version they read. If
	// another turn appends first, Append reports a moved parent and the turn is
	// evaluated again against the new latest version.
	for attempt := 1; ; attempt++ {
		latest, err := s.versions.Latest(ctx, req.ProjectID)
		if err != nil {
			turn.ToolCalls = append(turn.ToolCalls, s.toolCall(primaryTool(proposal), "", "", err))
			return nil, err
		}
		var current models.Document
		parent := ""
		if latest != nil {
			current = latest.Body
			parent = latest.Label
		}

		currentFacts, err := s.facts.GetFacts(ctx, req.ProjectID)
		if err != nil {
			turn.ToolCalls = append(turn.ToolCalls, s.toolCall(primaryTool(proposal), "", "", err))
			return nil, err
		}

		report := s.detector.Evaluate(current, proposal.Delta, currentFacts, proposal.Facts)
		if report.IsConflicting() {
			outcome = metrics.OutcomeRejected
			metrics.RecordConflicts(report)

			call := s.toolCall(primaryTool(proposal), proposalTargets(proposal), describeProposal(current, proposal), nil)
			call.ConflictsDetected = true
			call.Reasons = report.ReasonStrings()
			turn.ToolCalls = append(turn.ToolCalls, call)
			turn.AgentResponse = report.Explain()

			s.logger.Info("Rejected conflicting turn",
				zap.String("project_id", req.ProjectID.String()),
				zap.String("session_id", turn.SessionID),
				zap.Strings("reasons", call.Reasons))
			return &TurnResult{Outcome: TurnRejected, Report: report}, nil
		}

		result = &TurnResult{Outcome: TurnApplied, Report: report}

		if proposal.IsNoop() {
			outcome = metrics.OutcomeApplied
			turn.ToolCalls = append(turn.ToolCalls, s.toolCall(models.ToolChat, "", NoChanges, nil))
			turn.AgentResponse = defaultResponse(proposal.AgentResponse, "No changes were made.")
			return result, nil
		}
		if !proposal.CreatesVersion() {
			break
		}

		merged := MergeDelta(current, proposal.Delta)
		changelog := Diff(current, merged)
		sections := strings.Join(proposal.Delta.SectionNames(), ",")

		version, err := s.versions.Append(ctx, req.ProjectID, AppendRequest{
			Body:         merged,
			RenderedText: proposal.RenderedText,
			Changelog:    changelog,
			CreatedBy:    req.CreatedBy,
			ReleaseBump:  proposal.ReleaseBump,
			Parent:       parent,
			CheckParent:  true,
		})
		var stale *apperrors.StaleError
		if errors.As(err, &stale) && attempt < s.rebaseAttempts {
			s.logger.Info("Latest version moved during turn, re-evaluating",
				zap.String("project_id", req.ProjectID.String()),
				zap.String("session_id", turn.SessionID),
				zap.String("parent", parent),
				zap.String("latest", stale.Actual),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			turn.ToolCalls = append(turn.ToolCalls, s.toolCall(models.ToolUpdateSRS, sections, changelog, err))
			return nil, err
		}

		call := s.toolCall(models.ToolUpdateSRS, sections, changelog, nil)
		call.Version = version.Label
		turn.ToolCalls = append(turn.ToolCalls, call)
		result.Version = version
		break
	}

	var factErrs []error
	for _, pf := range proposal.Facts {
		fact, err := s.facts.UpsertFact(ctx, req.ProjectID, pf.Key, pf.Value, pf.Kind)
		turn.ToolCalls = append(turn.ToolCalls,
			s.toolCall(models.ToolRememberFact, pf.Key, fmt.Sprintf("%s (%s): %s", pf.Key, pf.Kind, pf.Value), err))
		if err != nil {
			factErrs = append(factErrs, fmt.Errorf("fact %q: %w", pf.Key, err))
			continue
		}
		result.Facts = append(result.Facts, fact)
	}

	outcome = metrics.OutcomeApplied
	turn.AgentResponse = defaultResponse(proposal.AgentResponse, appliedResponse(result))

	if len(factErrs) > 0 {
		outcome = metrics.OutcomeFailed
		s.logger.Error("Turn partially applied",
			zap.String("project_id", req.ProjectID.String()),
			zap.String("session_id", turn.SessionID),
			zap.Int("failed_facts", len(factErrs)))
		return result, &apperrors.PersistenceError{Op: "upsert facts", Err: errors.Join(factErrs...)}
	}

	fields := []zap.Field{
		zap.String("project_id", req.ProjectID.String()),
		zap.String("session_id", turn.SessionID),
		zap.Int("facts", len(result.Facts)),
	}
	if result.Version != nil {
		fields = append(fields, zap.String("version", result.Version.Label))
	}
	s.logger.Info("Applied turn", fields...)
	return result, nil
}

func (s *revisionService) Converse(ctx context.Context, req *ChatRequest) (*TurnResult, error) {
	if s.proposer == nil {
		return nil, ErrProposerUnavailable
	}
	if _, err := s.projects.Get(ctx, req.ProjectID); err != nil {
		return nil, apperrors.Persistence("get project", err)
	}
	sessionID := sessionOrNew(req.SessionID)

	proposal, err := s.propose(ctx, req.ProjectID, sessionID, req.UserMessage)
	if err != nil {
		s.logger.Error("Model collaborator failed",
			zap.String("project_id", req.ProjectID.String()),
			zap.String("session_id", sessionID),
			zap.Error(err))
		s.recordFailedTurn(ctx, req.ProjectID, sessionID, req.UserMessage, err)
		return nil, err
	}

	return s.ApplyTurn(ctx, &TurnRequest{
		ProjectID:   req.ProjectID,
		SessionID:   sessionID,
		UserMessage: req.UserMessage,
		Proposal:    proposal,
		CreatedBy:   req.CreatedBy,
	})
}

func (s *revisionService) propose(ctx context.Context, projectID uuid.UUID, sessionID, message string) (*models.TurnProposal, error) {
	latest, err := s.versions.Latest(ctx, projectID)
	if err != nil {
		return nil, err
	}
	facts, err := s.facts.GetFacts(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var history []*models.ChatTurn
	if s.historyTurns > 0 {
		history, err = s.turns.ListBySession(ctx, projectID, sessionID, s.historyTurns)
		if err != nil {
			return nil, apperrors.Persistence("list session turns", err)
		}
	}

	return s.proposer.Propose(llm.WithRequestID(ctx, uuid.NewString()), &llm.ProposalRequest{
		ProjectID:   projectID,
		SessionID:   sessionID,
		Latest:      latest,
		Facts:       facts,
		History:     history,
		UserMessage: message,
	})
}

func (s *revisionService) recordFailedTurn(ctx context.Context, projectID uuid.UUID, sessionID, message string, cause error) {
	turn := &models.ChatTurn{
		ProjectID:     projectID,
		SessionID:     sessionID,
		UserMessage:   message,
		AgentResponse: "The assistant could not process this message: " + cause.Error(),
		ToolCalls:     []models.ToolCallRecord{s.toolCall(models.ToolChat, "", "", cause)},
	}
	if err := s.record(ctx, turn); err != nil {
		s.logger.Error("Failed to record failed turn",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
	}
	metrics.ObserveTurn(metrics.OutcomeFailed, 0)
}

func (s *revisionService) SessionTurns(ctx context.Context, projectID uuid.UUID, sessionID string) ([]*models.ChatTurn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.NewValidationError("session_id", "session id is required")
	}
	turns, err := s.turns.ListBySession(ctx, projectID, sessionID, 0)
	if err != nil {
		return nil, apperrors.Persistence("list session turns", err)
	}
	return turns, nil
}

func (s *revisionService) RecentTurns(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	if limit <= 0 {
		limit = 50
	}
	turns, err := s.turns.ListByProject(ctx, projectID, limit)
	if err != nil {
		return nil, apperrors.Persistence("list turns", err)
	}
	return turns, nil
}

// record persists the audit turn even if the caller's context was cancelled.
func (s *revisionService) record(ctx context.Context, turn *models.ChatTurn) error {
	if err := s.turns.Create(context.WithoutCancel(ctx), turn); err != nil {
		s.logger.Error("Failed to record chat turn",
			zap.String("project_id", turn.ProjectID.String()),
			zap.String("session_id", turn.SessionID),
			zap.Error(err))
		return apperrors.Persistence("record chat turn", err)
	}
	return nil
}

func (s *revisionService) toolCall(tool, section, changes string, err error) models.ToolCallRecord {
	call := models.ToolCallRecord{
		Tool:      tool,
		Section:   section,
		Changes:   changes,
		Timestamp: s.now().UTC(),
	}
	if err != nil {
		call.Error = err.Error()
	}
	return call
}

var errNoProposal = errors.New("proposal is required")

func sessionOrNew(sessionID string) string {
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return sessionID
	}
	return models.NewSessionID()
}

// primaryTool names the tool a proposal exercises for its audit record.
func primaryTool(p *models.TurnProposal) string {
	switch {
	case p.CreatesVersion():
		return models.ToolUpdateSRS
	case len(p.Facts) > 0:
		return models.ToolRememberFact
	default:
		return models.ToolChat
	}
}

// proposalTargets lists touched sections and fact keys, comma separated.
func proposalTargets(p *models.TurnProposal) string {
	targets := p.Delta.SectionNames()
	for _, f := range p.Facts {
		targets = append(targets, f.Key)
	}
	return strings.Join(targets, ",")
}

func describeProposal(current models.Document, p *models.TurnProposal) string {
	var lines []string
	if len(p.Delta) > 0 {
		lines = append(lines, Diff(current, MergeDelta(current, p.Delta)))
	}
	for _, f := range p.Facts {
		lines = append(lines, fmt.Sprintf("remember %s (%s): %s", f.Key, f.Kind, f.Value))
	}
	return strings.Join(lines, "\n")
}

func appliedResponse(r *TurnResult) string {
	var parts []string
	if r.Version != nil {
		parts = append(parts, fmt.Sprintf("Saved %s:\n%s", r.Version.Label, r.Version.Changelog))
	}
	if len(r.Facts) > 0 {
		keys := make([]string, 0, len(r.Facts))
		for _, f := range r.Facts {
			keys = append(keys, f.Key)
		}
		parts = append(parts, "Remembered "+strings.Join(keys, ", ")+".")
	}
	return strings.Join(parts, "\n")
}

func defaultResponse(given, fallback string) string {
	if strings.TrimSpace(given) != "" {
		return given
	}
	return fallback
}
