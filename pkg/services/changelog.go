package services

import (
	"sort"
	"strings"

	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// ChangeKind classifies one section-level change between two documents.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// NoChanges is the changelog text for identical documents.
const NoChanges = "no changes"

// SectionChange is one entry of a changelog.
type SectionChange struct {
	Kind    ChangeKind `json:"kind"`
	Section string     `json:"section"`
}

func (c SectionChange) String() string {
	return string(c.Kind) + " section " + c.Section
}

// Changes compares old (nil for a first version) with new and returns added,
// then updated, then removed sections, each group sorted by name.
func Changes(oldBody, newBody models.Document) []SectionChange {
	var added, updated, removed []SectionChange

	for name, content := range newBody {
		prev, ok := oldBody[name]
		switch {
		case !ok:
			added = append(added, SectionChange{Kind: ChangeAdded, Section: name})
		case prev != content:
			updated = append(updated, SectionChange{Kind: ChangeUpdated, Section: name})
		}
	}
	for name := range oldBody {
		if _, ok := newBody[name]; !ok {
			removed = append(removed, SectionChange{Kind: ChangeRemoved, Section: name})
		}
	}

	out := make([]SectionChange, 0, len(added)+len(updated)+len(removed))
	for _, group := range [][]SectionChange{added, updated, removed} {
		sort.Slice(group, func(i, j int) bool { return group[i].Section < group[j].Section })
		out = append(out, group...)
	}
	return out
}

// Diff renders Changes as one statement per line, or "no changes".
func Diff(oldBody, newBody models.Document) string {
	changes := Changes(oldBody, newBody)
	if len(changes) == 0 {
		return NoChanges
	}
	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}

// MergeDelta applies section-level replace-or-insert: sections named in delta
// replace or add to the body, every other section is carried over unchanged.
func MergeDelta(body models.Document, delta models.Delta) models.Document {
	merged := body.Clone()
	for name, content := range delta {
		merged[name] = content
	}
	return merged
}
