package models

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
)

// SrsVersion is an immutable snapshot of a project's SRS document.
// Once stored its body is never modified; the only legal follow-up is a new version.
type SrsVersion struct {
	ID           uuid.UUID `json:"id"`
	ProjectID    uuid.UUID `json:"project_id"`
	Label        string    `json:"version"`
	Body         Document  `json:"body"`
	RenderedText string    `json:"rendered_text,omitempty"`
	Changelog    string    `json:"changelog,omitempty"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// VersionLabel is the parsed form of a label such as "v1.3".
type VersionLabel struct {
	Major int
	Minor int
}

// FirstVersionLabel is assigned to the first version of a project.
var FirstVersionLabel = VersionLabel{Major: 1, Minor: 0}

var versionLabelPattern = regexp.MustCompile(`^v(\d+)\.(\d+)$`)

// ParseVersionLabel parses "v<major>.<minor>". Anything else is a ValidationError.
func ParseVersionLabel(s string) (VersionLabel, error) {
	m := versionLabelPattern.FindStringSubmatch(s)
	if m == nil {
		return VersionLabel{}, apperrors.NewValidationError("version", fmt.Sprintf("malformed version label %q", s))
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return VersionLabel{}, apperrors.NewValidationError("version", fmt.Sprintf("malformed major component in %q", s))
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return VersionLabel{}, apperrors.NewValidationError("version", fmt.Sprintf("malformed minor component in %q", s))
	}
	return VersionLabel{Major: major, Minor: minor}, nil
}

func (l VersionLabel) String() string {
	return fmt.Sprintf("v%d.%d", l.Major, l.Minor)
}

// Next returns the following minor label: v1.9 -> v1.10.
func (l VersionLabel) Next() VersionLabel {
	return VersionLabel{Major: l.Major, Minor: l.Minor + 1}
}

// NextMajor returns the following release label: v1.4 -> v2.0.
func (l VersionLabel) NextMajor() VersionLabel {
	return VersionLabel{Major: l.Major + 1, Minor: 0}
}
