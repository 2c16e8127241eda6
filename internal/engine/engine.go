// Package engine is the task lifecycle controller: it validates actor and
// membership preconditions, drives the repository orchestrator, and moves
// tasks through the column, verification and check status axes.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/orchestrator"
	"checkline/internal/provider"
	"checkline/internal/repo"
	"checkline/internal/spec"
	"checkline/internal/stack"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Provider provider.Client
	Orch     *orchestrator.Orchestrator
	Registry *stack.Registry
	Log      *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, p provider.Client, log *zap.Logger) Engine {
	var orch *orchestrator.Orchestrator
	if p != nil {
		orch = orchestrator.New(p, cfg, log)
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Provider: p,
		Orch:     orch,
		Registry: stack.Default(),
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CreateProject registers a project owned by ownerID.
func (e Engine) CreateProject(ctx context.Context, title, description, ownerID string) (domain.Project, error) {
	if title == "" {
		return domain.Project{}, errors.New("title is required")
	}
	if ownerID == "" {
		return domain.Project{}, errors.New("owner is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte(ownerID+"|"+title+"|"+now)).String(),
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, "project", p.ID, ownerID, events.EventPayload{"title": title}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// LinkRepository attaches an external repository to a project after
// verifying it exists and the configured account can see it.
func (e Engine) LinkRepository(ctx context.Context, projectID, fullName, actorID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if actorID != p.OwnerID {
		return domain.Project{}, newError(CodePermissionDenied, "only the project owner can link a repository")
	}
	if e.Provider == nil {
		return domain.Project{}, newError(CodeAccountNotConnected, "no provider account is configured")
	}
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return domain.Project{}, newError(CodeInvalidRepoReference, "repository must be owner/name").wrap(err)
	}
	r, err := e.Provider.GetRepository(ctx, owner, name)
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return domain.Project{}, newError(CodeRepoMissing, "repository not found").with("repo", fullName).wrap(err)
	case errors.Is(err, provider.ErrPermission):
		return domain.Project{}, newError(CodePermissionDenied, "provider rejected repository access").with("repo", fullName).wrap(err)
	case err != nil:
		return domain.Project{}, err
	}
	ref := domain.RepoRef{Provider: e.Config.Provider.Kind, FullName: r.FullName, URL: r.HTMLURL}
	if err := e.Repo.LinkRepository(ctx, projectID, ref); err != nil {
		return domain.Project{}, err
	}
	p.Repo = &ref
	e.Log.Info("repository linked", zap.String("project", projectID), zap.String("repo", r.FullName))
	return p, nil
}

// TaskImportOptions are parameters for importing one backlog task.
type TaskImportOptions struct {
	ID                 string
	ProjectID          string
	Title              string
	Description        string
	AcceptanceCriteria string
	ActorID            string
}

// ImportTask stores a task produced by the (external) backlog generator.
func (e Engine) ImportTask(ctx context.Context, opts TaskImportOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	p, err := e.Repo.GetProject(ctx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if !validTaskID(id) {
		id = mintTaskID(opts.ProjectID, opts.Title, now)
	}
	t := domain.Task{
		ID:                 id,
		ProjectID:          p.ID,
		Title:              opts.Title,
		Description:        opts.Description,
		AcceptanceCriteria: opts.AcceptanceCriteria,
		Column:             domain.ColumnTodo,
		Verification:       domain.VerificationNotSubmitted,
		RepoLink:           domain.RepoLink{CheckStatus: domain.CheckIdle},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeTaskImported, p.ID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ensureColumnTransition validates a column move. Backward moves are only
// doing->todo (unassign) and review->doing (rejection).
func ensureColumnTransition(oldColumn, newColumn string) error {
	switch oldColumn {
	case domain.ColumnTodo:
		if newColumn == domain.ColumnDoing {
			return nil
		}
	case domain.ColumnDoing:
		if newColumn == domain.ColumnTodo || newColumn == domain.ColumnReview {
			return nil
		}
	case domain.ColumnReview:
		if newColumn == domain.ColumnDone || newColumn == domain.ColumnDoing {
			return nil
		}
	}
	return newError(CodeInvalidTransition,
		fmt.Sprintf("invalid column transition %s -> %s", oldColumn, newColumn)).
		with("from", oldColumn).with("to", newColumn)
}

func (e Engine) requireProvider() error {
	if e.Provider == nil || e.Orch == nil {
		return newError(CodeAccountNotConnected, "no provider account is configured")
	}
	return nil
}

func repoOf(p domain.Project) (domain.RepoRef, error) {
	if p.Repo == nil || p.Repo.FullName == "" {
		return domain.RepoRef{}, newError(CodeRepoMissing, "project has no linked repository").with("project", p.ID)
	}
	return *p.Repo, nil
}

// buildVerification produces the spec, scaffold and checklist for a task
// using the configured default stack profile.
func (e Engine) buildVerification(t domain.Task) (spec.VerificationSpec, stack.Scaffold) {
	st := spec.NormalizeStack(e.Config.Stack.Default)
	vs := spec.Build(t, st, e.now())
	adapter := e.Registry.Select(vs.Stack)
	return vs, adapter.Generate(vs)
}

// commitArtifacts pushes branch, spec, scaffold and workflow for a task.
// Branch-creation failures and commit failures map to distinct codes.
func (e Engine) commitArtifacts(ctx context.Context, ref domain.RepoRef, branch string, vs spec.VerificationSpec, sc stack.Scaffold) error {
	if err := e.Orch.EnsureBranch(ctx, ref.FullName, branch); err != nil {
		return newError(CodeBranchCreateFailed, "could not create task branch").
			with("repo", ref.FullName).with("branch", branch).wrap(err)
	}
	if err := e.Orch.CommitVerificationArtifacts(ctx, ref.FullName, branch, vs, sc); err != nil {
		return newError(CodeCommitFailed, "could not commit verification artifacts").
			with("repo", ref.FullName).with("branch", branch).wrap(err)
	}
	return nil
}
