package services

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// ConflictDetector flags proposed changes that would silently discard a
// stored constraint. It is a text heuristic, not a prover.
type ConflictDetector interface {
	Evaluate(current models.Document, delta models.Delta, currentFacts []*models.Fact, proposed []models.ProposedFact) models.ConflictReport
}

type conflictDetector struct {
	negationMarkers map[string]bool
}

// defaultNegationMarkers are words that turn a sentence mentioning a
// constraint into a statement against it.
var defaultNegationMarkers = []string{
	"not", "no", "never", "instead", "without", "nor",
	"don't", "doesn't", "didn't", "cannot", "can't", "won't", "shouldn't", "mustn't", "isn't", "aren't",
	"remove", "removed", "drop", "dropped", "replace", "replaced", "stop", "avoid", "except",
}

// NewConflictDetector returns the default detector.
func NewConflictDetector() ConflictDetector {
	markers := make(map[string]bool, len(defaultNegationMarkers))
	for _, m := range defaultNegationMarkers {
		markers[m] = true
	}
	return &conflictDetector{negationMarkers: markers}
}

var _ ConflictDetector = (*conflictDetector)(nil)

var (
	sentenceBoundary = regexp.MustCompile(`[.!?;]+(?:\s+|$)|\n+`)
	wordPattern      = regexp.MustCompile(`[a-z]+(?:'[a-z]+)?`)
)

// normalizeText lowercases s and removes all whitespace so that containment
// checks ignore spacing and case.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func splitSentences(s string) []string {
	var out []string
	for _, part := range sentenceBoundary.Split(s, -1) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (d *conflictDetector) markersIn(sentence string) map[string]bool {
	lower := strings.ReplaceAll(strings.ToLower(sentence), "’", "'")
	found := make(map[string]bool)
	for _, w := range wordPattern.FindAllString(lower, -1) {
		if d.negationMarkers[w] {
			found[w] = true
		}
	}
	return found
}

// Evaluate checks proposed facts against stored constraint facts, then checks
// each touched section for sentences that stop asserting a stored constraint.
func (d *conflictDetector) Evaluate(
	current models.Document,
	delta models.Delta,
	currentFacts []*models.Fact,
	proposed []models.ProposedFact,
) models.ConflictReport {
	var reasons []models.ConflictReason

	constraints := make(map[string]*models.Fact)
	for _, f := range currentFacts {
		if f.Kind == models.FactKindConstraint {
			constraints[f.Key] = f
		}
	}

	// Protection is keyed on the stored kind; the proposed kind does not matter.
	for _, p := range proposed {
		stored, ok := constraints[p.Key]
		if !ok {
			continue
		}
		was, now := normalizeText(stored.Value), normalizeText(p.Value)
		if strings.Contains(was, now) || strings.Contains(now, was) {
			continue
		}
		reasons = append(reasons, models.ConflictReason{
			FactKey: p.Key,
			Message: fmt.Sprintf("stored constraint %q would be overwritten with %q", stored.Value, p.Value),
		})
	}

	keys := make([]string, 0, len(constraints))
	for k := range constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, section := range delta.SectionNames() {
		oldContent := current[section]
		if strings.TrimSpace(oldContent) == "" {
			continue
		}
		newContent := delta[section]
		for _, key := range keys {
			c := constraints[key]
			if msg, ok := d.sectionNegates(oldContent, newContent, normalizeText(c.Value)); ok {
				reasons = append(reasons, models.ConflictReason{
					Section: section,
					FactKey: key,
					Message: fmt.Sprintf("%s (constraint %q)", msg, c.Value),
				})
			}
		}
	}

	if len(reasons) == 0 {
		return models.CompatibleReport()
	}
	return models.ConflictingReport(reasons)
}

// sectionNegates reports whether newContent drops or contradicts a sentence of
// oldContent that asserts the normalized constraint value.
func (d *conflictDetector) sectionNegates(oldContent, newContent, value string) (string, bool) {
	if value == "" {
		return "", false
	}

	var asserted []string
	for _, s := range splitSentences(oldContent) {
		if strings.Contains(normalizeText(s), value) {
			asserted = append(asserted, s)
		}
	}
	if len(asserted) == 0 {
		return "", false
	}

	if !strings.Contains(normalizeText(newContent), value) {
		return fmt.Sprintf("revision drops the statement %q", asserted[0]), true
	}

	for _, oldSentence := range asserted {
		oldMarkers := d.markersIn(oldSentence)
		for _, s := range splitSentences(newContent) {
			if !strings.Contains(normalizeText(s), value) {
				continue
			}
			for m := range d.markersIn(s) {
				if !oldMarkers[m] {
					return fmt.Sprintf("revision negates the statement %q with %q", oldSentence, s), true
				}
			}
		}
	}
	return "", false
}
