// Package orchestrator drives the external repository: task branches,
// verification artifacts, workflow dispatch and result polling. Every
// operation is idempotent so a retried engine action never half-fails.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"checkline/internal/config"
	"checkline/internal/provider"
	"checkline/internal/spec"
	"checkline/internal/stack"
)

type Orchestrator struct {
	Provider provider.Client
	Config   *config.Config
	Log      *zap.Logger

	// Sleep is swapped out by tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

func New(p provider.Client, cfg *config.Config, log *zap.Logger) *Orchestrator {
	return &Orchestrator{Provider: p, Config: cfg, Log: log, Sleep: time.Sleep}
}

// call applies the configured per-call timeout and retries once on a
// transient provider failure.
func (o *Orchestrator) call(ctx context.Context, fn func(context.Context) error) error {
	timeout := time.Duration(o.Config.Limits.ProviderTimeoutSeconds) * time.Second
	run := func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(cctx)
	}
	err := run()
	if err != nil && o.Config.Limits.ProviderRetryOnTransient && errors.Is(err, provider.ErrUnavailable) {
		o.Log.Warn("provider call failed, retrying once", zap.Error(err))
		err = run()
	}
	return err
}

// BranchFor returns the task branch name.
func (o *Orchestrator) BranchFor(taskID string) string {
	return o.Config.Verify.BranchPrefix + taskID
}

// EnsureBranch creates the task branch off the default branch head. A branch
// that already exists is success, so assigning twice cannot fail here.
func (o *Orchestrator) EnsureBranch(ctx context.Context, fullName, branch string) error {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return err
	}
	var repo provider.Repository
	if err := o.call(ctx, func(ctx context.Context) error {
		repo, err = o.Provider.GetRepository(ctx, owner, name)
		return err
	}); err != nil {
		return fmt.Errorf("resolve repository %s: %w", fullName, err)
	}
	var head string
	if err := o.call(ctx, func(ctx context.Context) error {
		head, err = o.Provider.GetBranchHead(ctx, owner, name, repo.DefaultBranch)
		return err
	}); err != nil {
		return fmt.Errorf("resolve %s head of %s: %w", repo.DefaultBranch, fullName, err)
	}
	err = o.call(ctx, func(ctx context.Context) error {
		return o.Provider.CreateBranch(ctx, owner, name, branch, head)
	})
	if errors.Is(err, provider.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create branch %s on %s: %w", branch, fullName, err)
	}
	o.Log.Info("branch created", zap.String("repo", fullName), zap.String("branch", branch))
	return nil
}

// DeleteBranchIfEmpty removes the task branch only when no work was
// committed to it, i.e. its head still equals the default branch head.
// Failures are logged and swallowed; unassign must never block on cleanup.
func (o *Orchestrator) DeleteBranchIfEmpty(ctx context.Context, fullName, branch string) {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		o.Log.Warn("skip branch cleanup", zap.String("repo", fullName), zap.Error(err))
		return
	}
	var repo provider.Repository
	if err := o.call(ctx, func(ctx context.Context) error {
		repo, err = o.Provider.GetRepository(ctx, owner, name)
		return err
	}); err != nil {
		o.Log.Warn("skip branch cleanup", zap.String("repo", fullName), zap.Error(err))
		return
	}
	var defaultHead, branchHead string
	if err := o.call(ctx, func(ctx context.Context) error {
		defaultHead, err = o.Provider.GetBranchHead(ctx, owner, name, repo.DefaultBranch)
		return err
	}); err != nil {
		o.Log.Warn("skip branch cleanup", zap.String("repo", fullName), zap.Error(err))
		return
	}
	if err := o.call(ctx, func(ctx context.Context) error {
		branchHead, err = o.Provider.GetBranchHead(ctx, owner, name, branch)
		return err
	}); err != nil {
		if !errors.Is(err, provider.ErrNotFound) {
			o.Log.Warn("skip branch cleanup", zap.String("branch", branch), zap.Error(err))
		}
		return
	}
	if branchHead != defaultHead {
		o.Log.Info("branch has commits, leaving intact",
			zap.String("repo", fullName), zap.String("branch", branch))
		return
	}
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.Provider.DeleteBranch(ctx, owner, name, branch)
	}); err != nil {
		o.Log.Warn("branch deletion failed", zap.String("branch", branch), zap.Error(err))
		return
	}
	o.Log.Info("empty branch deleted", zap.String("repo", fullName), zap.String("branch", branch))
}

// CommitFile writes content at path on branch. Byte-identical content is a
// no-op; an existing file is updated in place using its blob SHA.
func (o *Orchestrator) CommitFile(ctx context.Context, fullName, branch, path string, content []byte, message string) error {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return err
	}
	var existing provider.File
	err = o.call(ctx, func(ctx context.Context) error {
		existing, err = o.Provider.GetFile(ctx, owner, name, path, branch)
		return err
	})
	switch {
	case err == nil:
		if bytes.Equal(existing.Content, content) {
			return nil
		}
	case errors.Is(err, provider.ErrNotFound):
		existing = provider.File{}
	default:
		return fmt.Errorf("read %s@%s: %w", path, branch, err)
	}
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.Provider.PutFile(ctx, owner, name, branch, path, message, content, existing.SHA)
	}); err != nil {
		return fmt.Errorf("commit %s to %s@%s: %w", path, fullName, branch, err)
	}
	return nil
}

// EnsureCollaborator invites login to the repository. An invitation that is
// already pending counts as success.
func (o *Orchestrator) EnsureCollaborator(ctx context.Context, fullName, login string) error {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return err
	}
	err = o.call(ctx, func(ctx context.Context) error {
		return o.Provider.InviteCollaborator(ctx, owner, name, login)
	})
	if errors.Is(err, provider.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invite %s to %s: %w", login, fullName, err)
	}
	return nil
}

// CommitVerificationArtifacts commits the spec document, the generated test
// scaffold and the CI workflow onto the task branch.
func (o *Orchestrator) CommitVerificationArtifacts(ctx context.Context, fullName, branch string, vs spec.VerificationSpec, sc stack.Scaffold) error {
	doc, err := json.MarshalIndent(vs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode spec for task %s: %w", vs.TaskID, err)
	}
	doc = append(doc, '\n')
	msg := fmt.Sprintf("checkline: verification spec for task %s", vs.TaskID)
	if err := o.CommitFile(ctx, fullName, branch, spec.PathFor(vs.TaskID), doc, msg); err != nil {
		return err
	}
	for path, content := range sc.Files {
		msg := fmt.Sprintf("checkline: test scaffold for task %s", vs.TaskID)
		if err := o.CommitFile(ctx, fullName, branch, path, []byte(content), msg); err != nil {
			return err
		}
	}
	wf, err := WorkflowYAML(o.Config.Verify.WorkflowFile, sc)
	if err != nil {
		return fmt.Errorf("render workflow for task %s: %w", vs.TaskID, err)
	}
	wfPath := ".github/workflows/" + o.Config.Verify.WorkflowFile
	msg = fmt.Sprintf("checkline: verification workflow for task %s", vs.TaskID)
	if err := o.CommitFile(ctx, fullName, branch, wfPath, wf, msg); err != nil {
		return err
	}
	return nil
}

// Dispatch triggers the verification workflow for a task branch. When a
// dispatch-only workflow is configured it is invoked on the default branch
// with the task branch as an input; otherwise the per-branch workflow file
// committed by CommitVerificationArtifacts runs on the branch itself.
func (o *Orchestrator) Dispatch(ctx context.Context, fullName, branch, projectID, taskID string) error {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return err
	}
	workflowFile := o.Config.Verify.WorkflowFile
	ref := branch
	if o.Config.Verify.DispatchWorkflow != "" {
		workflowFile = o.Config.Verify.DispatchWorkflow
		var repo provider.Repository
		if err := o.call(ctx, func(ctx context.Context) error {
			repo, err = o.Provider.GetRepository(ctx, owner, name)
			return err
		}); err != nil {
			return fmt.Errorf("resolve repository %s: %w", fullName, err)
		}
		ref = repo.DefaultBranch
	}
	inputs := map[string]any{
		"projectId": projectID,
		"taskId":    taskID,
		"branch":    branch,
	}
	if err := o.call(ctx, func(ctx context.Context) error {
		return o.Provider.DispatchWorkflow(ctx, owner, name, workflowFile, ref, inputs)
	}); err != nil {
		return fmt.Errorf("dispatch %s on %s@%s: %w", workflowFile, fullName, ref, err)
	}
	o.Log.Info("workflow dispatched",
		zap.String("repo", fullName),
		zap.String("workflow", workflowFile),
		zap.String("branch", branch),
		zap.String("task", taskID))
	return nil
}

// Poll conclusions.
const (
	ConclusionPending = "pending"
	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)

// PollResult waits the configured delay, then looks once for the newest run
// on the branch. It is advisory only; the webhook path remains the final
// word, so a run that has not registered yet reports pending, not an error.
func (o *Orchestrator) PollResult(ctx context.Context, fullName, branch string) (conclusion, url string, err error) {
	owner, name, err := provider.SplitFullName(fullName)
	if err != nil {
		return "", "", err
	}
	o.Sleep(time.Duration(o.Config.Verify.PollDelaySeconds) * time.Second)
	workflowFile := o.Config.Verify.WorkflowFile
	listBranch := branch
	if o.Config.Verify.DispatchWorkflow != "" {
		// Dispatch-only runs register on the ref they were dispatched on,
		// which is the default branch, not the task branch.
		workflowFile = o.Config.Verify.DispatchWorkflow
		var repo provider.Repository
		if err := o.call(ctx, func(ctx context.Context) error {
			repo, err = o.Provider.GetRepository(ctx, owner, name)
			return err
		}); err != nil {
			return "", "", fmt.Errorf("resolve repository %s: %w", fullName, err)
		}
		listBranch = repo.DefaultBranch
	}
	var runs []provider.WorkflowRun
	if err := o.call(ctx, func(ctx context.Context) error {
		runs, err = o.Provider.ListWorkflowRuns(ctx, owner, name, workflowFile, listBranch)
		return err
	}); err != nil {
		return "", "", fmt.Errorf("list runs for %s@%s: %w", fullName, branch, err)
	}
	var newest *provider.WorkflowRun
	for i := range runs {
		if newest == nil || runs[i].CreatedAt.After(newest.CreatedAt) {
			newest = &runs[i]
		}
	}
	if newest == nil || newest.Conclusion == "" {
		return ConclusionPending, "", nil
	}
	return newest.Conclusion, newest.HTMLURL, nil
}
