package llm

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/retry"
)

// ProposalRequest is the context handed to the model for one turn.
type ProposalRequest struct {
	ProjectID   uuid.UUID
	SessionID   string
	Latest      *models.SrsVersion // nil before the first version
	Facts       []*models.Fact
	History     []*models.ChatTurn // oldest first
	UserMessage string
}

// Proposer turns a user message into a proposed delta and facts.
// The result is not validated; the revision pipeline does that.
type Proposer interface {
	Propose(ctx context.Context, req *ProposalRequest) (*models.TurnProposal, error)
}

// ModelProposer implements Proposer on top of a Client.
type ModelProposer struct {
	client   Client
	breaker  *CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewModelProposer wraps client with retries and a circuit breaker.
func NewModelProposer(client Client, logger *zap.Logger) *ModelProposer {
	logger = logger.Named("proposer")
	breakerCfg := DefaultCircuitBreakerConfig()
	breakerCfg.OnTransition = func(from, to CircuitState) {
		logger.Warn("Model circuit breaker changed state",
			zap.String("model", client.Model()),
			zap.Stringer("from", from),
			zap.Stringer("to", to))
	}
	return &ModelProposer{
		client:   client,
		breaker:  NewCircuitBreaker(breakerCfg),
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
	}
}

// Propose implements Proposer.
func (p *ModelProposer) Propose(ctx context.Context, req *ProposalRequest) (*models.TurnProposal, error) {
	if err := p.breaker.Allow(); err != nil {
		return nil, err
	}

	systemMessage := BuildSystemPrompt()
	prompt := BuildUserPrompt(req)

	var completion *Completion
	err := retry.DoIfRetryable(ctx, p.retryCfg, func() error {
		var callErr error
		completion, callErr = p.client.Complete(ctx, systemMessage, prompt)
		return callErr
	})
	if err != nil {
		p.breaker.RecordFailure()
		p.logger.Error("Model proposal failed",
			zap.String("project_id", req.ProjectID.String()),
			zap.String("model", p.client.Model()),
			zap.Error(err))
		return nil, err
	}
	p.breaker.RecordSuccess()

	proposal, err := ParseProposal(completion.Content)
	if err != nil {
		p.logger.Warn("Model returned an unusable proposal",
			zap.String("project_id", req.ProjectID.String()),
			zap.Int("response_len", len(completion.Content)),
			zap.Error(err))
		return nil, err
	}

	p.logger.Debug("Model proposal received",
		zap.String("project_id", req.ProjectID.String()),
		zap.String("type", string(proposal.Type)),
		zap.Strings("sections", proposal.Delta.SectionNames()),
		zap.Int("facts", len(proposal.Facts)))
	return proposal, nil
}

// proposalResponse is the loosely typed JSON the model returns.
type proposalResponse struct {
	Type          string                             `json:"type"`
	AgentResponse jsonutil.FlexibleString            `json:"agent_response"`
	Delta         map[string]jsonutil.FlexibleString `json:"delta"`
	Facts         []struct {
		Key   jsonutil.FlexibleString `json:"key"`
		Value jsonutil.FlexibleString `json:"value"`
		Kind  jsonutil.FlexibleString `json:"kind"`
	} `json:"facts"`
	ReleaseBump bool `json:"release_bump"`
}

// ParseProposal extracts a TurnProposal from raw model output. A missing
// type is inferred from whether the response carries changes.
func ParseProposal(content string) (*models.TurnProposal, error) {
	resp, err := ParseJSONResponse[proposalResponse](content)
	if err != nil {
		return nil, NewError(ErrorTypeResponse, "model response is not a JSON proposal", false, err)
	}

	proposal := &models.TurnProposal{
		Type:          models.ProposalType(strings.ToLower(strings.TrimSpace(resp.Type))),
		AgentResponse: strings.TrimSpace(resp.AgentResponse.String()),
		ReleaseBump:   resp.ReleaseBump,
	}
	if len(resp.Delta) > 0 {
		proposal.Delta = make(models.Delta, len(resp.Delta))
		for name, content := range resp.Delta {
			proposal.Delta[name] = content.String()
		}
	}
	for _, f := range resp.Facts {
		proposal.Facts = append(proposal.Facts, models.ProposedFact{
			Key:   f.Key.String(),
			Value: f.Value.String(),
			Kind:  models.FactKind(f.Kind.String()),
		})
	}

	if proposal.Type == "" {
		proposal.Type = models.ProposalTypeChat
		if !proposal.IsNoop() {
			proposal.Type = models.ProposalTypeRevise
		}
	}
	proposal.Normalize()
	return proposal, nil
}

var _ Proposer = (*ModelProposer)(nil)
