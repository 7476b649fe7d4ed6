package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-srs/pkg/app"
	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// exitRejected is the exit code when an imported document conflicts with
// recorded facts.
const exitRejected = 2

type configLoader func(path string) (*config.Config, error)

// env opens the backend on first use and closes it after the command.
type env struct {
	load configLoader
	cfg  *config.Config
	app  *app.App
}

func (e *env) open(c *cli.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	cfg, err := e.load(c.String("config"))
	if err != nil {
		return nil, err
	}
	logger := zap.NewNop()
	if c.Bool("verbose") {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, err
		}
	}
	a, err := app.Open(c.Context, cfg, logger)
	if err != nil {
		return nil, err
	}
	e.cfg, e.app = cfg, a
	return a, nil
}

func (e *env) close() {
	if e.app != nil {
		e.app.Close()
		e.app = nil
	}
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(load configLoader, out io.Writer) *cli.App {
	e := &env{load: load}
	app := &cli.App{
		Name:    "srsctl",
		Usage:   "Inspect and edit SRS projects",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"SRS_CONFIG"}, Usage: "Path to config.yaml (default: ./config.yaml if present)"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log to stderr"},
		},
		Commands: []*cli.Command{
			projectsCmd(e),
			historyCmd(e),
			showCmd(e),
			factsCmd(e),
			diffCmd(e),
			importCmd(e),
			migrateCmd(e),
		},
		After: func(*cli.Context) error {
			e.close()
			return nil
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func projectsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "projects",
		Usage: "Manage projects",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a project",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Project name"},
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Project description"},
				},
				Action: func(c *cli.Context) error {
					a, err := e.open(c)
					if err != nil {
						return outputError(err)
					}
					project, err := a.Projects.Create(c.Context, c.String("name"), c.String("description"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, project)
				},
			},
			{
				Name:  "list",
				Usage: "List projects",
				Action: func(c *cli.Context) error {
					a, err := e.open(c)
					if err != nil {
						return outputError(err)
					}
					projects, err := a.Projects.List(c.Context)
					if err != nil {
						return outputError(err)
					}
					if projects == nil {
						projects = []*models.Project{}
					}
					return outputJSON(c, projects)
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a project with its versions, facts and turns",
				ArgsUsage: "<project-id>",
				Action: func(c *cli.Context) error {
					projectID, err := projectArg(c)
					if err != nil {
						return outputError(err)
					}
					a, err := e.open(c)
					if err != nil {
						return outputError(err)
					}
					if err := a.Projects.Delete(c.Context, projectID); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"deleted": projectID})
				},
			},
		},
	}
}

// historyEntry omits the body to keep listings short.
type historyEntry struct {
	Label     string `json:"version"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at"`
	Changelog string `json:"changelog,omitempty"`
}

func historyCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "List a project's versions, oldest first",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Maximum versions to print (0 for all)"},
		},
		Action: func(c *cli.Context) error {
			projectID, err := projectArg(c)
			if err != nil {
				return outputError(err)
			}
			limit := c.Int("limit")
			if limit < 0 {
				return outputError(apperrors.NewValidationError("limit", "must not be negative"))
			}
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}

			entries := []historyEntry{}
			it := a.Versions.History(projectID)
			for it.Next(c.Context) {
				v := it.Version()
				entries = append(entries, historyEntry{
					Label:     v.Label,
					CreatedBy: v.CreatedBy,
					CreatedAt: v.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
					Changelog: v.Changelog,
				})
				if limit > 0 && len(entries) == limit {
					break
				}
			}
			if err := it.Err(); err != nil {
				return outputError(err)
			}
			return outputJSON(c, entries)
		},
	}
}

func showCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a version (latest when no label is given)",
		ArgsUsage: "<project-id> [label]",
		Action: func(c *cli.Context) error {
			projectID, err := projectArg(c)
			if err != nil {
				return outputError(err)
			}
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			v, err := lookupVersion(c.Context, a, projectID, c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, v)
		},
	}
}

func factsCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "facts",
		Usage:     "List a project's facts, most recently updated first",
		ArgsUsage: "<project-id>",
		Action: func(c *cli.Context) error {
			projectID, err := projectArg(c)
			if err != nil {
				return outputError(err)
			}
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			facts, err := a.Facts.GetFacts(c.Context, projectID)
			if err != nil {
				return outputError(err)
			}
			if facts == nil {
				facts = []*models.Fact{}
			}
			return outputJSON(c, facts)
		},
	}
}

type diffOutput struct {
	From      string                   `json:"from"`
	To        string                   `json:"to"`
	Changes   []services.SectionChange `json:"changes"`
	Changelog string                   `json:"changelog"`
}

func diffCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "Section-level changelog between two versions (to defaults to latest)",
		ArgsUsage: "<project-id> <from> [to]",
		Action: func(c *cli.Context) error {
			projectID, err := projectArg(c)
			if err != nil {
				return outputError(err)
			}
			if c.NArg() < 2 {
				return outputError(apperrors.NewValidationError("from", "is required"))
			}
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}
			from, err := lookupVersion(c.Context, a, projectID, c.Args().Get(1))
			if err != nil {
				return outputError(err)
			}
			to, err := lookupVersion(c.Context, a, projectID, c.Args().Get(2))
			if err != nil {
				return outputError(err)
			}
			changes := services.Changes(from.Body, to.Body)
			if changes == nil {
				changes = []services.SectionChange{}
			}
			return outputJSON(c, diffOutput{
				From:      from.Label,
				To:        to.Label,
				Changes:   changes,
				Changelog: services.Diff(from.Body, to.Body),
			})
		},
	}
}

// importDocument is the file format accepted by import. JSON is valid YAML,
// so both parse through yaml.v3.
type importDocument struct {
	Message  string            `yaml:"message"`
	Release  bool              `yaml:"release"`
	Sections map[string]string `yaml:"sections"`
	Facts    []struct {
		Key   string `yaml:"key"`
		Value string `yaml:"value"`
		Kind  string `yaml:"kind"`
	} `yaml:"facts"`
}

func (d *importDocument) proposal() *models.TurnProposal {
	p := &models.TurnProposal{
		Type:        models.ProposalTypeRevise,
		Delta:       models.Delta(d.Sections),
		ReleaseBump: d.Release,
	}
	for _, f := range d.Facts {
		p.Facts = append(p.Facts, models.ProposedFact{
			Key:   f.Key,
			Value: f.Value,
			Kind:  models.FactKind(strings.ToLower(strings.TrimSpace(f.Kind))),
		})
	}
	return p
}

func readImportDocument(path string) (*importDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var doc importDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperrors.NewValidationError("file", "not valid YAML or JSON: "+err.Error())
	}
	return &doc, nil
}

func importCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Apply sections and facts from a YAML or JSON file as one turn",
		ArgsUsage: "<project-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "Document file (YAML or JSON)"},
			&cli.StringFlag{Name: "session", Aliases: []string{"s"}, Usage: "Session ID (generated when empty)"},
		},
		Action: func(c *cli.Context) error {
			projectID, err := projectArg(c)
			if err != nil {
				return outputError(err)
			}
			doc, err := readImportDocument(c.String("file"))
			if err != nil {
				return outputError(err)
			}
			a, err := e.open(c)
			if err != nil {
				return outputError(err)
			}

			message := doc.Message
			if message == "" {
				message = "Imported " + c.String("file")
			}
			result, err := a.Revision.ApplyTurn(c.Context, &services.TurnRequest{
				ProjectID:   projectID,
				SessionID:   c.String("session"),
				UserMessage: message,
				Proposal:    doc.proposal(),
				CreatedBy:   "srsctl",
			})
			if result != nil {
				if outErr := outputJSON(c, result); outErr != nil {
					return outErr
				}
			}
			if err != nil {
				return outputError(err)
			}
			if result.Outcome == services.TurnRejected {
				return cli.Exit("import rejected: "+result.Report.Explain(), exitRejected)
			}
			return nil
		},
	}
}

func migrateCmd(e *env) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(c *cli.Context) error {
			// Opening the backend applies pending migrations.
			if _, err := e.open(c); err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]string{
				"status":   "ok",
				"database": e.cfg.Database.Type,
			})
		},
	}
}

// Helper functions

func projectArg(c *cli.Context) (uuid.UUID, error) {
	raw := c.Args().First()
	if raw == "" {
		return uuid.Nil, apperrors.NewValidationError("project_id", "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperrors.NewValidationError("project_id", "must be a UUID")
	}
	return id, nil
}

// lookupVersion returns the labelled version, or the latest when label is empty.
func lookupVersion(ctx context.Context, a *app.App, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	var (
		v   *models.SrsVersion
		err error
	)
	if label == "" {
		v, err = a.Versions.Latest(ctx, projectID)
		label = "latest"
	} else {
		v, err = a.Versions.Get(ctx, projectID, label)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("version %s: %w", label, apperrors.ErrNotFound)
	}
	return v, nil
}

// outputJSON writes v to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats err as "[code] message" with exit status 1.
func outputError(err error) error {
	var vErr *apperrors.ValidationError
	switch {
	case errors.As(err, &vErr):
		return cli.Exit(fmt.Sprintf("[validation_error] %s", vErr.Error()), 1)
	case errors.Is(err, apperrors.ErrNotFound):
		return cli.Exit(fmt.Sprintf("[not_found] %s", err.Error()), 1)
	case errors.Is(err, apperrors.ErrConflict):
		return cli.Exit(fmt.Sprintf("[version_conflict] %s", err.Error()), 1)
	default:
		return cli.Exit(err.Error(), 1)
	}
}
