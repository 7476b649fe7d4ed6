package models

import (
	"sort"
	"strings"
)

// IEEE 830 section names. A complete SRS carries non-empty content for each.
const (
	SectionIntroduction       = "introduction"
	SectionOverallDescription = "overall_description"
	SectionSystemFeatures     = "system_features"
	SectionExternalInterface  = "external_interface"
	SectionNonFunctional      = "non_functional"
	SectionAppendices         = "appendices"
)

// RequiredSections lists the IEEE 830 sections in document order.
var RequiredSections = []string{
	SectionIntroduction,
	SectionOverallDescription,
	SectionSystemFeatures,
	SectionExternalInterface,
	SectionNonFunctional,
	SectionAppendices,
}

// Document is the structured body of an SRS version: section name to section content.
type Document map[string]string

// Delta is a proposed set of section-level replacements.
type Delta map[string]string

// SectionNames returns the document's section names in sorted order.
func (d Document) SectionNames() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy. A nil document clones to an empty one.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// MissingSections returns the required IEEE 830 sections that are absent or
// contain only whitespace, in document order.
func (d Document) MissingSections() []string {
	var missing []string
	for _, name := range RequiredSections {
		if strings.TrimSpace(d[name]) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsComplete reports whether every required section has content.
func (d Document) IsComplete() bool {
	return len(d.MissingSections()) == 0
}

// SectionNames returns the delta's section names in sorted order.
func (d Delta) SectionNames() []string {
	return Document(d).SectionNames()
}
