package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/orchestrator"
	"checkline/internal/spec"
)

// loadForAction fetches a task and its project with identifiers normalized.
func (e Engine) loadForAction(ctx context.Context, taskID, actorID string) (domain.Task, domain.Project, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, domain.Project{}, err
	}
	normalized, err := e.NormalizeProjectTasks(ctx, t.ProjectID, actorID)
	if err != nil {
		return domain.Task{}, domain.Project{}, err
	}
	if !validTaskID(taskID) {
		// The id was just re-minted; pick the renamed task back up by its
		// stable creation coordinates.
		for _, nt := range normalized {
			if nt.Title == t.Title && nt.CreatedAt == t.CreatedAt {
				t = nt
				break
			}
		}
		if t.ID == taskID {
			return domain.Task{}, domain.Project{}, errors.New("task id was renormalized, reload the task list")
		}
		t, err = e.Repo.GetTask(ctx, t.ID)
		if err != nil {
			return domain.Task{}, domain.Project{}, err
		}
	}
	p, err := e.Repo.GetProject(ctx, t.ProjectID)
	if err != nil {
		return domain.Task{}, domain.Project{}, err
	}
	return t, p, nil
}

// Assign claims a todo task for actorID, creates the task branch and commits
// the verification spec and test scaffold onto it.
func (e Engine) Assign(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, p, err := e.loadForAction(ctx, taskID, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureColumnTransition(t.Column, domain.ColumnDoing); err != nil {
		return domain.Task{}, err
	}
	if t.AssigneeID != nil {
		return domain.Task{}, newError(CodeTaskAlreadyAssigned, "task already has an assignee")
	}
	if actorID == p.OwnerID {
		return domain.Task{}, newError(CodePermissionDenied, "project owners cannot take their own tasks")
	}
	ref, err := repoOf(p)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.requireProvider(); err != nil {
		return domain.Task{}, err
	}
	if err := e.requireActive(ctx, p, actorID); err != nil {
		return domain.Task{}, err
	}
	n, err := e.Repo.CountDoing(ctx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if n >= e.Config.Limits.MaxDoingPerUser {
		return domain.Task{}, newError(CodeMaxConcurrentTasks, "concurrent task limit reached").
			with("limit", e.Config.Limits.MaxDoingPerUser)
	}

	// Claim first, atomically: two racing assigns must not both proceed to
	// provider work.
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	claimed, err := e.Repo.ClaimTask(ctx, tx, t.ID, actorID, now)
	if err != nil {
		tx.Rollback()
		return domain.Task{}, err
	}
	if !claimed {
		tx.Rollback()
		return domain.Task{}, newError(CodeTaskAlreadyAssigned, "task was assigned concurrently")
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	branch := t.RepoLink.Branch
	if branch == "" {
		branch = e.Orch.BranchFor(t.ID)
	}
	vs, sc := e.buildVerification(t)
	if err := e.commitArtifacts(ctx, ref, branch, vs, sc); err != nil {
		e.releaseClaim(ctx, t.ID)
		return domain.Task{}, err
	}

	t.AssigneeID = &actorID
	t.Column = domain.ColumnDoing
	t.Verification = domain.VerificationNotSubmitted
	t.RepoLink.Branch = branch
	t.RepoLink.CheckStatus = domain.CheckIdle
	t.Checklist = spec.Checklist(vs, nil, true)
	t.UpdatedAt = now
	if err := e.saveTask(ctx, t, events.TypeTaskAssigned, actorID,
		events.EventPayload{"branch": branch}); err != nil {
		return domain.Task{}, err
	}
	e.Log.Info("task assigned",
		zap.String("task", t.ID), zap.String("user", actorID), zap.String("branch", branch))
	return t, nil
}

// releaseClaim undoes a claim after provider work failed, so the task does
// not stay half-assigned.
func (e Engine) releaseClaim(ctx context.Context, taskID string) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Log.Error("release claim failed", zap.String("task", taskID), zap.Error(err))
		return
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET assignee_id=NULL WHERE id=?`, taskID); err != nil {
		e.Log.Error("release claim failed", zap.String("task", taskID), zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		e.Log.Error("release claim failed", zap.String("task", taskID), zap.Error(err))
	}
}

// Unassign releases a doing task back to todo. The task branch is deleted
// only if it carries no commits; cleanup failures never block the release.
func (e Engine) Unassign(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, p, err := e.loadForAction(ctx, taskID, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureColumnTransition(t.Column, domain.ColumnTodo); err != nil {
		return domain.Task{}, err
	}
	if t.AssigneeID == nil || *t.AssigneeID != actorID {
		return domain.Task{}, newError(CodePermissionDenied, "only the assignee can release a task")
	}
	if t.RepoLink.Branch != "" && e.Orch != nil {
		if ref, rerr := repoOf(p); rerr == nil {
			e.Orch.DeleteBranchIfEmpty(ctx, ref.FullName, t.RepoLink.Branch)
		}
	}
	t.AssigneeID = nil
	t.Column = domain.ColumnTodo
	t.Verification = domain.VerificationNotSubmitted
	t.RepoLink.Branch = ""
	t.RepoLink.CheckStatus = domain.CheckIdle
	t.RepoLink.CheckURL = ""
	t.Checklist = nil
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.saveTask(ctx, t, events.TypeTaskUnassigned, actorID, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SubmitForReview moves a doing task to review and fires the verification
// workflow without waiting for it.
func (e Engine) SubmitForReview(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, p, err := e.loadForAction(ctx, taskID, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := ensureColumnTransition(t.Column, domain.ColumnReview); err != nil {
		return domain.Task{}, err
	}
	if t.AssigneeID == nil || *t.AssigneeID != actorID {
		return domain.Task{}, newError(CodePermissionDenied, "only the assignee can submit a task")
	}
	ref, err := repoOf(p)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.requireProvider(); err != nil {
		return domain.Task{}, err
	}
	branch := t.RepoLink.Branch
	if branch == "" {
		branch = e.Orch.BranchFor(t.ID)
	}
	vs, sc := e.buildVerification(t)
	if err := e.commitArtifacts(ctx, ref, branch, vs, sc); err != nil {
		return domain.Task{}, err
	}
	t.Column = domain.ColumnReview
	t.Verification = domain.VerificationSubmitted
	t.RepoLink.Branch = branch
	// Resubmission resets the checklist; earlier results no longer apply.
	t.Checklist = spec.Checklist(vs, t.Checklist, true)
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.saveTask(ctx, t, events.TypeTaskSubmitted, actorID,
		events.EventPayload{"branch": branch}); err != nil {
		return domain.Task{}, err
	}
	// Fire and forget: the run-verify action and the webhook both recover
	// from a dispatch that never happened.
	if err := e.Orch.Dispatch(ctx, ref.FullName, branch, p.ID, t.ID); err != nil {
		e.Log.Warn("submit dispatch failed", zap.String("task", t.ID), zap.Error(err))
	}
	return t, nil
}

// RunVerify dispatches the verification workflow for a review task and polls
// once for its conclusion. A run that has not finished leaves the check
// pending; the webhook settles it later.
func (e Engine) RunVerify(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, p, err := e.loadForAction(ctx, taskID, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Column != domain.ColumnReview {
		return domain.Task{}, newError(CodeInvalidTransition, "verification requires a task in review").
			with("from", t.Column)
	}
	if t.AssigneeID == nil || *t.AssigneeID != actorID {
		return domain.Task{}, newError(CodePermissionDenied, "only the assignee can verify a task")
	}
	if actorID == p.OwnerID {
		return domain.Task{}, newError(CodePermissionDenied, "project owners cannot verify their own tasks")
	}
	ref, err := repoOf(p)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.requireProvider(); err != nil {
		return domain.Task{}, err
	}
	if err := e.requireActive(ctx, p, actorID); err != nil {
		return domain.Task{}, err
	}
	branch := t.RepoLink.Branch
	if branch == "" {
		branch = e.Orch.BranchFor(t.ID)
	}
	vs, sc := e.buildVerification(t)
	if err := e.commitArtifacts(ctx, ref, branch, vs, sc); err != nil {
		return domain.Task{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	t.RepoLink.Branch = branch
	t.RepoLink.CheckStatus = domain.CheckPending
	t.RepoLink.LastRunAt = now
	t.Checklist = spec.Checklist(vs, t.Checklist, false)
	t.UpdatedAt = now
	if err := e.saveTask(ctx, t, events.TypeVerifyStarted, actorID,
		events.EventPayload{"branch": branch}); err != nil {
		return domain.Task{}, err
	}
	if err := e.Orch.Dispatch(ctx, ref.FullName, branch, p.ID, t.ID); err != nil {
		// Check stays pending so a later webhook or retry can still settle
		// the run; the caller sees the structured failure.
		return domain.Task{}, newError(CodeDispatchFailed, "could not dispatch verification workflow").
			with("branch", branch).wrap(err)
	}

	conclusion, url, err := e.Orch.PollResult(ctx, ref.FullName, branch)
	if err != nil {
		e.Log.Warn("verification poll failed, leaving check pending",
			zap.String("task", t.ID), zap.Error(err))
		return t, nil
	}
	if conclusion == orchestrator.ConclusionPending {
		return t, nil
	}
	return e.ApplyCheckResult(ctx, t.ID, conclusion, url, nil, actorID)
}

// ApplyCheckResult folds a CI conclusion into the task. It serves both the
// synchronous poll path and the webhook path; the later writer simply
// overwrites the earlier since both derive from the same provider-side run.
// perItem optionally carries per-expectation outcomes keyed by checklist
// key; when absent the conclusion applies uniformly.
func (e Engine) ApplyCheckResult(ctx context.Context, taskID, conclusion, url string, perItem map[string]string, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	passed := conclusion == orchestrator.ConclusionSuccess
	if passed {
		t.RepoLink.CheckStatus = domain.CheckPassed
	} else {
		t.RepoLink.CheckStatus = domain.CheckFailed
	}
	if url != "" {
		t.RepoLink.CheckURL = url
	}
	t.RepoLink.LastRunAt = now

	// Only a task still in review moves on its column and verification axes.
	// Late deliveries, replays, and results for tasks that were released in
	// the meantime update the check record and nothing else.
	if t.Column == domain.ColumnReview {
		uniform := domain.ItemFailed
		if passed {
			uniform = domain.ItemPassed
		}
		allPassed := len(t.Checklist) > 0
		for i := range t.Checklist {
			status, ok := perItem[t.Checklist[i].Key]
			if !ok {
				status = uniform
			}
			t.Checklist[i].Status = status
			if status != domain.ItemPassed {
				allPassed = false
			}
		}
		if len(t.Checklist) == 0 {
			allPassed = passed
		}
		if allPassed {
			t.Column = domain.ColumnDone
			t.Verification = domain.VerificationApproved
		} else {
			t.Column = domain.ColumnDoing
			t.Verification = domain.VerificationRejected
		}
	}
	t.UpdatedAt = now
	if err := e.saveTask(ctx, t, events.TypeVerifyResult, actorID, events.EventPayload{
		"conclusion": conclusion,
		"check":      t.RepoLink.CheckStatus,
	}); err != nil {
		return domain.Task{}, err
	}
	e.Log.Info("check result applied",
		zap.String("task", t.ID),
		zap.String("conclusion", conclusion),
		zap.String("column", t.Column))
	return t, nil
}

// saveTask persists the task and appends the lifecycle event in one
// transaction.
func (e Engine) saveTask(ctx context.Context, t domain.Task, evtType, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
