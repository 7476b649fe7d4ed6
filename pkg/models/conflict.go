package models

import (
	"fmt"
	"strings"
)

// ConflictStatus classifies a proposed change against the current state.
type ConflictStatus string

const (
	ConflictStatusCompatible  ConflictStatus = "compatible"
	ConflictStatusConflicting ConflictStatus = "conflicting"
)

// ConflictReason names the offending section or fact key with an explanation.
// At least one of Section and FactKey is set.
type ConflictReason struct {
	Section string `json:"section,omitempty"`
	FactKey string `json:"fact_key,omitempty"`
	Message string `json:"message"`
}

func (r ConflictReason) String() string {
	switch {
	case r.Section != "" && r.FactKey != "":
		return fmt.Sprintf("section %s / fact %s: %s", r.Section, r.FactKey, r.Message)
	case r.Section != "":
		return fmt.Sprintf("section %s: %s", r.Section, r.Message)
	default:
		return fmt.Sprintf("fact %s: %s", r.FactKey, r.Message)
	}
}

// ConflictReport is either compatible or conflicting with a list of reasons.
type ConflictReport struct {
	Status  ConflictStatus   `json:"status"`
	Reasons []ConflictReason `json:"reasons,omitempty"`
}

// CompatibleReport returns a report with no reasons.
func CompatibleReport() ConflictReport {
	return ConflictReport{Status: ConflictStatusCompatible}
}

// ConflictingReport returns a report carrying the given reasons.
func ConflictingReport(reasons []ConflictReason) ConflictReport {
	return ConflictReport{Status: ConflictStatusConflicting, Reasons: reasons}
}

// IsConflicting reports whether the report carries any reason.
func (r ConflictReport) IsConflicting() bool {
	return r.Status == ConflictStatusConflicting
}

// ReasonStrings renders each reason for audit records.
func (r ConflictReport) ReasonStrings() []string {
	out := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		out = append(out, reason.String())
	}
	return out
}

// Explain produces the user-visible explanation for a rejected turn.
func (r ConflictReport) Explain() string {
	if !r.IsConflicting() {
		return ""
	}
	var b strings.Builder
	b.WriteString("This change conflicts with what was recorded earlier and was not applied:\n")
	for _, reason := range r.Reasons {
		b.WriteString("- ")
		b.WriteString(reason.String())
		b.WriteString("\n")
	}
	b.WriteString("Please confirm which statement should win, or rephrase the change.")
	return b.String()
}
