// Package sqlite implements the repositories over a local SQLite database
// (modernc.org/sqlite) for single-user and embedded deployments.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

// timeLayout is fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// Repositories bundles the SQLite implementations sharing one *sql.DB.
type Repositories struct {
	Projects  repositories.ProjectRepository
	Facts     repositories.FactRepository
	Versions  repositories.VersionRepository
	ChatTurns repositories.ChatTurnRepository
}

// New returns all repositories over db. The schema must already be migrated.
func New(db *sql.DB) *Repositories {
	return &Repositories{
		Projects:  NewProjectRepository(db),
		Facts:     NewFactRepository(db),
		Versions:  NewVersionRepository(db),
		ChatTurns: NewChatTurnRepository(db),
	}
}
