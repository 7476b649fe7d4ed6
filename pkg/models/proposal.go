package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
)

// ProposalType tags the shape of a TurnProposal.
type ProposalType string

const (
	// ProposalTypeChat is a conversational turn that changes nothing.
	ProposalTypeChat ProposalType = "chat"
	// ProposalTypeRevise carries a section delta and/or facts to apply.
	ProposalTypeRevise ProposalType = "revise"
)

// TurnProposal is what the model collaborator (or an API caller) proposes
// for one turn. It is validated before it reaches conflict detection.
type TurnProposal struct {
	Type          ProposalType   `json:"type" validate:"required,oneof=chat revise"`
	Delta         Delta          `json:"delta,omitempty" validate:"omitempty,max=32,dive,keys,required,nonblank,max=128,endkeys,required,nonblank"`
	Facts         []ProposedFact `json:"facts,omitempty" validate:"omitempty,max=64,dive"`
	AgentResponse string         `json:"agent_response,omitempty" validate:"max=65536"`
	RenderedText  string         `json:"rendered_text,omitempty"`
	ReleaseBump   bool           `json:"release_bump,omitempty"`
}

var proposalValidate *validator.Validate

func init() {
	proposalValidate = validator.New()
	_ = proposalValidate.RegisterValidation("nonblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// Validate checks field rules and the chat/revise union rules. Failures are
// returned as *apperrors.ValidationError.
func (p *TurnProposal) Validate() error {
	if p == nil {
		return apperrors.NewValidationError("proposal", "proposal is required")
	}
	if err := proposalValidate.Struct(p); err != nil {
		return toValidationError(err)
	}

	switch p.Type {
	case ProposalTypeChat:
		if len(p.Delta) > 0 || len(p.Facts) > 0 {
			return apperrors.NewValidationError("type", "chat proposals cannot carry a delta or facts")
		}
		if p.ReleaseBump {
			return apperrors.NewValidationError("release_bump", "chat proposals cannot request a release")
		}
	case ProposalTypeRevise:
		if p.IsNoop() {
			return apperrors.NewValidationError("type", "revise proposals must carry a delta, facts or a release bump")
		}
	}

	seen := make(map[string]bool, len(p.Facts))
	for _, f := range p.Facts {
		if seen[f.Key] {
			return apperrors.NewValidationError("facts", fmt.Sprintf("duplicate fact key %q", f.Key))
		}
		seen[f.Key] = true
	}
	return nil
}

// IsNoop reports whether the proposal changes neither document nor facts.
func (p *TurnProposal) IsNoop() bool {
	return len(p.Delta) == 0 && len(p.Facts) == 0 && !p.ReleaseBump
}

// CreatesVersion reports whether applying the proposal appends a version.
func (p *TurnProposal) CreatesVersion() bool {
	return len(p.Delta) > 0 || p.ReleaseBump
}

// Normalize trims section names, section content and fact fields in place.
func (p *TurnProposal) Normalize() {
	if len(p.Delta) > 0 {
		delta := make(Delta, len(p.Delta))
		for name, content := range p.Delta {
			delta[strings.TrimSpace(name)] = strings.TrimSpace(content)
		}
		p.Delta = delta
	}
	for i := range p.Facts {
		p.Facts[i].Key = strings.TrimSpace(p.Facts[i].Key)
		p.Facts[i].Value = strings.TrimSpace(p.Facts[i].Value)
		p.Facts[i].Kind = FactKind(strings.ToLower(strings.TrimSpace(string(p.Facts[i].Kind))))
	}
}

func toValidationError(err error) error {
	var vErrs validator.ValidationErrors
	if errors.As(err, &vErrs) && len(vErrs) > 0 {
		fe := vErrs[0]
		return apperrors.NewValidationError(fe.Namespace(), fmt.Sprintf("failed %q rule", fe.Tag()))
	}
	return apperrors.NewValidationError("proposal", err.Error())
}
