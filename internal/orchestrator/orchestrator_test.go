package orchestrator_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/orchestrator"
	"checkline/internal/provider"
	"checkline/internal/provider/providertest"
	"checkline/internal/spec"
	"checkline/internal/stack"
)

func newOrchestrator(t *testing.T, fake *providertest.Fake) *orchestrator.Orchestrator {
	t.Helper()
	cfg := config.Default()
	o := orchestrator.New(fake, cfg, zaptest.NewLogger(t))
	o.Sleep = func(time.Duration) {}
	return o
}

func TestEnsureBranchIsIdempotent(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)
	ctx := context.Background()

	require.NoError(t, o.EnsureBranch(ctx, "acme/shop", "task/T-1"))
	// the second call hits the existing-branch conflict and still succeeds
	require.NoError(t, o.EnsureBranch(ctx, "acme/shop", "task/T-1"))
}

func TestEnsureBranchMissingRepo(t *testing.T) {
	o := newOrchestrator(t, providertest.New())
	err := o.EnsureBranch(context.Background(), "acme/void", "task/T-1")
	require.ErrorIs(t, err, provider.ErrNotFound)
}

func TestCommitFileSkipsIdenticalContent(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)
	ctx := context.Background()

	require.NoError(t, o.CommitFile(ctx, "acme/shop", "main", "notes.txt", []byte("hello\n"), "add notes"))
	assert.Equal(t, 1, fake.Puts)

	// identical content is a no-op, different content is an update
	require.NoError(t, o.CommitFile(ctx, "acme/shop", "main", "notes.txt", []byte("hello\n"), "add notes"))
	assert.Equal(t, 1, fake.Puts)
	require.NoError(t, o.CommitFile(ctx, "acme/shop", "main", "notes.txt", []byte("bye\n"), "update notes"))
	assert.Equal(t, 2, fake.Puts)
}

func TestCallRetriesOnceOnTransientFailure(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{})
	fake.Err = provider.ErrUnavailable
	fake.ErrOnce = true
	o := newOrchestrator(t, fake)
	o.Config.Limits.ProviderRetryOnTransient = true

	require.NoError(t, o.EnsureBranch(context.Background(), "acme/shop", "task/T-1"))
}

func TestCommitVerificationArtifacts(t *testing.T) {
	fake := providertest.New()
	repo := fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)
	ctx := context.Background()

	task := domain.Task{ID: "T-1", Title: "x", AcceptanceCriteria: "- expose POST /orders endpoint"}
	vs := spec.Build(task, spec.DefaultStack, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	sc := stack.Default().Select(vs.Stack).Generate(vs)

	require.NoError(t, o.EnsureBranch(ctx, "acme/shop", "task/T-1"))
	require.NoError(t, o.CommitVerificationArtifacts(ctx, "acme/shop", "task/T-1", vs, sc))

	_, ok := repo.Files["task/T-1:"+spec.PathFor("T-1")]
	assert.True(t, ok, "spec document committed")
	_, ok = repo.Files["task/T-1:.github/workflows/"+o.Config.Verify.WorkflowFile]
	assert.True(t, ok, "workflow committed")
	for path := range sc.Files {
		_, ok = repo.Files["task/T-1:"+path]
		assert.True(t, ok, "scaffold %s committed", path)
	}

	// a second commit of unchanged artifacts writes nothing
	puts := fake.Puts
	require.NoError(t, o.CommitVerificationArtifacts(ctx, "acme/shop", "task/T-1", vs, sc))
	assert.Equal(t, puts, fake.Puts)
}

func TestDispatchOnTaskBranch(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)

	require.NoError(t, o.Dispatch(context.Background(), "acme/shop", "task/T-1", "P-1", "T-1"))
	require.Len(t, fake.Dispatches, 1)
	d := fake.Dispatches[0]
	assert.Equal(t, o.Config.Verify.WorkflowFile, d.Workflow)
	assert.Equal(t, "task/T-1", d.Ref)
	assert.Equal(t, "T-1", d.Inputs["taskId"])
	assert.Equal(t, "task/T-1", d.Inputs["branch"])
}

func TestDispatchOnlyWorkflowUsesDefaultBranch(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{DefaultBranch: "trunk"})
	o := newOrchestrator(t, fake)
	o.Config.Verify.DispatchWorkflow = "verify-dispatch.yml"

	require.NoError(t, o.Dispatch(context.Background(), "acme/shop", "task/T-1", "P-1", "T-1"))
	require.Len(t, fake.Dispatches, 1)
	assert.Equal(t, "verify-dispatch.yml", fake.Dispatches[0].Workflow)
	assert.Equal(t, "trunk", fake.Dispatches[0].Ref)
	// the task branch still rides along as an input
	assert.Equal(t, "task/T-1", fake.Dispatches[0].Inputs["branch"])
}

func TestPollResultPicksNewestRun(t *testing.T) {
	fake := providertest.New()
	repo := fake.AddRepo("acme/shop", &providertest.Repo{})
	repo.Runs = []provider.WorkflowRun{
		{ID: 1, Branch: "task/T-1", Conclusion: orchestrator.ConclusionFailure,
			HTMLURL: "https://ci/1", CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{ID: 2, Branch: "task/T-1", Conclusion: orchestrator.ConclusionSuccess,
			HTMLURL: "https://ci/2", CreatedAt: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)},
	}
	o := newOrchestrator(t, fake)

	conclusion, url, err := o.PollResult(context.Background(), "acme/shop", "task/T-1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ConclusionSuccess, conclusion)
	assert.Equal(t, "https://ci/2", url)
}

func TestPollResultPendingWhenNoRuns(t *testing.T) {
	fake := providertest.New()
	fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)

	conclusion, _, err := o.PollResult(context.Background(), "acme/shop", "task/T-1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ConclusionPending, conclusion)
}

func TestDeleteBranchIfEmpty(t *testing.T) {
	fake := providertest.New()
	repo := fake.AddRepo("acme/shop", &providertest.Repo{})
	o := newOrchestrator(t, fake)
	ctx := context.Background()

	require.NoError(t, o.EnsureBranch(ctx, "acme/shop", "task/T-1"))
	o.DeleteBranchIfEmpty(ctx, "acme/shop", "task/T-1")
	assert.NotContains(t, repo.Branches, "task/T-1")

	// a branch with commits survives cleanup
	require.NoError(t, o.EnsureBranch(ctx, "acme/shop", "task/T-2"))
	require.NoError(t, o.CommitFile(ctx, "acme/shop", "task/T-2", "work.txt", []byte("wip\n"), "wip"))
	o.DeleteBranchIfEmpty(ctx, "acme/shop", "task/T-2")
	assert.Contains(t, repo.Branches, "task/T-2")
}

func TestWorkflowYAMLShape(t *testing.T) {
	sc := stack.Scaffold{InstallCommand: "npm ci", TestCommand: "npx jest"}
	raw, err := orchestrator.WorkflowYAML("checkline-verify.yml", sc)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	on, ok := doc["on"].(map[string]any)
	require.True(t, ok, "workflow has an on block")
	dispatch, ok := on["workflow_dispatch"].(map[string]any)
	require.True(t, ok, "workflow is dispatchable")
	inputs, ok := dispatch["inputs"].(map[string]any)
	require.True(t, ok)
	for _, name := range []string{"projectId", "taskId", "branch"} {
		assert.Contains(t, inputs, name)
	}
	assert.Contains(t, string(raw), "npm ci")
	assert.Contains(t, string(raw), "npx jest")
}
