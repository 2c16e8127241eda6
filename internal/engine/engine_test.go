package engine_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/orchestrator"
	"checkline/internal/provider"
	"checkline/internal/provider/providertest"
)

type testEnv struct {
	Engine  engine.Engine
	Fake    *providertest.Fake
	Repo    *providertest.Repo
	Project domain.Project
	Ctx     context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	fake := providertest.New()
	fakeRepo := fake.AddRepo("acme/shop", &providertest.Repo{
		HTMLURL:       "https://github.test/acme/shop",
		Collaborators: []string{"dev", "dev2"},
	})
	cfg := config.Default()
	eng := engine.New(conn, cfg, fake, zaptest.NewLogger(t))
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	eng.Orch.Sleep = func(time.Duration) {}
	ctx := context.Background()

	p, err := eng.CreateProject(ctx, "Storefront", "", "owner")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	p, err = eng.LinkRepository(ctx, p.ID, "acme/shop", "owner")
	if err != nil {
		t.Fatalf("link repository: %v", err)
	}
	return &testEnv{Engine: eng, Fake: fake, Repo: fakeRepo, Project: p, Ctx: ctx}
}

func (env *testEnv) importTask(t *testing.T, id, title, criteria string) domain.Task {
	t.Helper()
	task, err := env.Engine.ImportTask(env.Ctx, engine.TaskImportOptions{
		ID:                 id,
		ProjectID:          env.Project.ID,
		Title:              title,
		AcceptanceCriteria: criteria,
		ActorID:            "owner",
	})
	if err != nil {
		t.Fatalf("import task: %v", err)
	}
	return task
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %s, got nil", code)
	}
	if got := engine.CodeOf(err); got != code {
		t.Fatalf("error code = %q, want %q (err: %v)", got, code, err)
	}
}

func TestCreateProjectAndLinkRepository(t *testing.T) {
	env := newTestEnv(t)
	if env.Project.Repo == nil || env.Project.Repo.FullName != "acme/shop" {
		t.Fatalf("repo not linked: %+v", env.Project.Repo)
	}
	if env.Project.Repo.URL != "https://github.test/acme/shop" {
		t.Fatalf("repo url = %q", env.Project.Repo.URL)
	}
}

func TestLinkRepositoryErrors(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.LinkRepository(env.Ctx, env.Project.ID, "acme/shop", "dev")
	wantCode(t, err, engine.CodePermissionDenied)

	_, err = env.Engine.LinkRepository(env.Ctx, env.Project.ID, "not-a-full-name", "owner")
	wantCode(t, err, engine.CodeInvalidRepoReference)

	_, err = env.Engine.LinkRepository(env.Ctx, env.Project.ID, "acme/void", "owner")
	wantCode(t, err, engine.CodeRepoMissing)

	noProvider := env.Engine
	noProvider.Provider = nil
	_, err = noProvider.LinkRepository(env.Ctx, env.Project.ID, "acme/shop", "owner")
	wantCode(t, err, engine.CodeAccountNotConnected)
}

func TestImportTaskMintsInvalidID(t *testing.T) {
	env := newTestEnv(t)
	kept := env.importTask(t, "T-1", "Valid id", "")
	if kept.ID != "T-1" {
		t.Fatalf("valid id rewritten to %q", kept.ID)
	}
	minted := env.importTask(t, "../../etc/passwd", "Hostile id", "")
	if minted.ID == "../../etc/passwd" {
		t.Fatalf("hostile id kept")
	}
	if minted.Column != domain.ColumnTodo || minted.Verification != domain.VerificationNotSubmitted {
		t.Fatalf("fresh task state: %s/%s", minted.Column, minted.Verification)
	}
	if minted.RepoLink.CheckStatus != domain.CheckIdle {
		t.Fatalf("fresh check status = %q", minted.RepoLink.CheckStatus)
	}
}

func TestAssignHappyPath(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- expose POST /orders endpoint\n- persist order in database")

	got, err := env.Engine.Assign(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Column != domain.ColumnDoing {
		t.Fatalf("column = %q", got.Column)
	}
	if got.AssigneeID == nil || *got.AssigneeID != "dev" {
		t.Fatalf("assignee = %v", got.AssigneeID)
	}
	wantBranch := "checkline/T-1"
	if got.RepoLink.Branch != wantBranch {
		t.Fatalf("branch = %q", got.RepoLink.Branch)
	}
	if _, ok := env.Repo.Branches[wantBranch]; !ok {
		t.Fatalf("task branch not created on provider")
	}
	if _, ok := env.Repo.Files[wantBranch+":.checkline/specs/T-1.json"]; !ok {
		t.Fatalf("spec document not committed")
	}
	if _, ok := env.Repo.Files[wantBranch+":.github/workflows/checkline-verify.yml"]; !ok {
		t.Fatalf("workflow not committed")
	}
	if len(got.Checklist) != 2 {
		t.Fatalf("checklist items = %d", len(got.Checklist))
	}
	for _, item := range got.Checklist {
		if item.Status != domain.ItemPending {
			t.Fatalf("fresh checklist item %s = %s", item.Key, item.Status)
		}
	}
}

func TestAssignGuards(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- do the thing")

	// project owners cannot take their own tasks
	_, err := env.Engine.Assign(env.Ctx, task.ID, "owner")
	wantCode(t, err, engine.CodePermissionDenied)

	// strangers need repository access first
	_, err = env.Engine.Assign(env.Ctx, task.ID, "stranger")
	wantCode(t, err, engine.CodeAccessRequired)

	// an invitation is not enough, only active collaborators may work
	env.Repo.Invitations = append(env.Repo.Invitations, "newcomer")
	_, err = env.Engine.Assign(env.Ctx, task.ID, "newcomer")
	wantCode(t, err, engine.CodeAccessRequired)

	// a task already in doing cannot be assigned again
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = env.Engine.Assign(env.Ctx, task.ID, "dev2")
	wantCode(t, err, engine.CodeInvalidTransition)
}

func TestAssignConcurrentTaskLimit(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Limits.MaxDoingPerUser = 1
	first := env.importTask(t, "T-1", "First", "")
	second := env.importTask(t, "T-2", "Second", "")

	if _, err := env.Engine.Assign(env.Ctx, first.ID, "dev"); err != nil {
		t.Fatalf("assign first: %v", err)
	}
	_, err := env.Engine.Assign(env.Ctx, second.ID, "dev")
	wantCode(t, err, engine.CodeMaxConcurrentTasks)

	// another user is unaffected by dev's limit
	if _, err := env.Engine.Assign(env.Ctx, second.ID, "dev2"); err != nil {
		t.Fatalf("assign by dev2: %v", err)
	}
}

func TestAssignReleasesClaimOnProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "")

	// membership is resolved before the claim, so cache it first
	if _, err := env.Engine.Membership(env.Ctx, env.Project, "dev"); err != nil {
		t.Fatalf("membership: %v", err)
	}
	env.Fake.Err = provider.ErrUnavailable
	_, err := env.Engine.Assign(env.Ctx, task.ID, "dev")
	wantCode(t, err, engine.CodeBranchCreateFailed)
	env.Fake.Err = nil

	got, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("reload task: %v", err)
	}
	if got.AssigneeID != nil {
		t.Fatalf("claim not released after provider failure: %v", *got.AssigneeID)
	}
	// the task is assignable again once the provider recovers
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign after recovery: %v", err)
	}
}

func TestUnassignReleasesTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- do the thing")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// only the assignee can release
	_, err := env.Engine.Unassign(env.Ctx, task.ID, "dev2")
	wantCode(t, err, engine.CodePermissionDenied)

	got, err := env.Engine.Unassign(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("unassign: %v", err)
	}
	if got.Column != domain.ColumnTodo || got.AssigneeID != nil {
		t.Fatalf("task not released: %s/%v", got.Column, got.AssigneeID)
	}
	if got.RepoLink.Branch != "" || got.RepoLink.CheckStatus != domain.CheckIdle {
		t.Fatalf("repo link not reset: %+v", got.RepoLink)
	}
	if len(got.Checklist) != 0 {
		t.Fatalf("checklist not cleared")
	}
}

func TestSubmitMovesToReviewAndDispatches(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- do the thing")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	got, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Column != domain.ColumnReview || got.Verification != domain.VerificationSubmitted {
		t.Fatalf("after submit: %s/%s", got.Column, got.Verification)
	}
	if len(env.Fake.Dispatches) == 0 {
		t.Fatalf("submit did not dispatch the workflow")
	}
	d := env.Fake.Dispatches[len(env.Fake.Dispatches)-1]
	if d.Inputs["taskId"] != "T-1" || d.Inputs["branch"] != "checkline/T-1" {
		t.Fatalf("dispatch inputs: %+v", d.Inputs)
	}
}

func TestRunVerifyApprovesOnSuccess(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- expose POST /orders endpoint\n- persist order in database")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.Repo.Runs = []provider.WorkflowRun{{
		ID: 7, Branch: "checkline/T-1",
		Conclusion: orchestrator.ConclusionSuccess,
		HTMLURL:    "https://ci/run/7",
		CreatedAt:  time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}}

	got, err := env.Engine.RunVerify(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("run verify: %v", err)
	}
	if got.Column != domain.ColumnDone || got.Verification != domain.VerificationApproved {
		t.Fatalf("after passing run: %s/%s", got.Column, got.Verification)
	}
	if got.RepoLink.CheckStatus != domain.CheckPassed {
		t.Fatalf("check status = %q", got.RepoLink.CheckStatus)
	}
	if got.RepoLink.CheckURL != "https://ci/run/7" {
		t.Fatalf("check url = %q", got.RepoLink.CheckURL)
	}
	for _, item := range got.Checklist {
		if item.Status != domain.ItemPassed {
			t.Fatalf("checklist item %s = %s", item.Key, item.Status)
		}
	}
}

func TestRunVerifyRejectsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- do the thing")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.Repo.Runs = []provider.WorkflowRun{{
		ID: 8, Branch: "checkline/T-1",
		Conclusion: orchestrator.ConclusionFailure,
		HTMLURL:    "https://ci/run/8",
		CreatedAt:  time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC),
	}}

	got, err := env.Engine.RunVerify(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("run verify: %v", err)
	}
	if got.Column != domain.ColumnDoing || got.Verification != domain.VerificationRejected {
		t.Fatalf("after failing run: %s/%s", got.Column, got.Verification)
	}
	if got.RepoLink.CheckStatus != domain.CheckFailed {
		t.Fatalf("check status = %q", got.RepoLink.CheckStatus)
	}
	// rejection keeps the assignee so the task can be fixed and resubmitted
	if got.AssigneeID == nil || *got.AssigneeID != "dev" {
		t.Fatalf("assignee lost on rejection")
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
}

func TestRunVerifyPendingWhenRunNotRegistered(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- do the thing")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := env.Engine.RunVerify(env.Ctx, task.ID, "dev")
	if err != nil {
		t.Fatalf("run verify: %v", err)
	}
	if got.Column != domain.ColumnReview || got.RepoLink.CheckStatus != domain.CheckPending {
		t.Fatalf("pending run should leave task in review/pending, got %s/%s",
			got.Column, got.RepoLink.CheckStatus)
	}
}

func TestRunVerifyGuards(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "")

	// verification requires review
	_, err := env.Engine.RunVerify(env.Ctx, task.ID, "dev")
	wantCode(t, err, engine.CodeInvalidTransition)

	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// only the assignee may verify
	_, err = env.Engine.RunVerify(env.Ctx, task.ID, "dev2")
	wantCode(t, err, engine.CodePermissionDenied)
}

func TestApplyCheckResultPerItem(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- expose POST /orders endpoint\n- persist order in database")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// a mixed per-item report fails the run even though one item passed
	perItem := map[string]string{
		"expose-post-orders-endpoint-1": domain.ItemPassed,
		"persist-order-in-database-2":   domain.ItemFailed,
	}
	got, err := env.Engine.ApplyCheckResult(env.Ctx, task.ID, orchestrator.ConclusionSuccess, "https://ci/run/9", perItem, "ci-webhook")
	if err != nil {
		t.Fatalf("apply check result: %v", err)
	}
	if got.Column != domain.ColumnDoing || got.Verification != domain.VerificationRejected {
		t.Fatalf("mixed result should reject: %s/%s", got.Column, got.Verification)
	}
	byKey := map[string]string{}
	for _, item := range got.Checklist {
		byKey[item.Key] = item.Status
	}
	if byKey["expose-post-orders-endpoint-1"] != domain.ItemPassed {
		t.Fatalf("passing item marked %s", byKey["expose-post-orders-endpoint-1"])
	}
	if byKey["persist-order-in-database-2"] != domain.ItemFailed {
		t.Fatalf("failing item marked %s", byKey["persist-order-in-database-2"])
	}
}

func TestApplyCheckResultOutsideReviewKeepsColumn(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- expose POST /orders endpoint")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.Unassign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("unassign: %v", err)
	}

	// a run conclusion arriving after the release must not move the task
	got, err := env.Engine.ApplyCheckResult(env.Ctx, task.ID, orchestrator.ConclusionSuccess, "https://ci/run/11", nil, "ci-webhook")
	if err != nil {
		t.Fatalf("apply check result: %v", err)
	}
	if got.Column != domain.ColumnTodo || got.Verification != domain.VerificationNotSubmitted {
		t.Fatalf("late success moved released task: %s/%s", got.Column, got.Verification)
	}
	if got.AssigneeID != nil {
		t.Fatalf("released task regained assignee %q", *got.AssigneeID)
	}
	if got.RepoLink.CheckStatus != domain.CheckPassed || got.RepoLink.CheckURL != "https://ci/run/11" {
		t.Fatalf("check record not kept: %+v", got.RepoLink)
	}
}

func TestApplyCheckResultReplayKeepsDoneTerminal(t *testing.T) {
	env := newTestEnv(t)
	task := env.importTask(t, "T-1", "Orders", "- expose POST /orders endpoint")
	if _, err := env.Engine.Assign(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := env.Engine.SubmitForReview(env.Ctx, task.ID, "dev"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := env.Engine.ApplyCheckResult(env.Ctx, task.ID, orchestrator.ConclusionSuccess, "https://ci/run/12", nil, "ci-webhook")
	if err != nil {
		t.Fatalf("apply check result: %v", err)
	}
	if got.Column != domain.ColumnDone {
		t.Fatalf("success did not finish task: %s", got.Column)
	}

	// a replayed failure delivery cannot reopen a finished task
	got, err = env.Engine.ApplyCheckResult(env.Ctx, task.ID, "failure", "https://ci/run/12", nil, "ci-webhook")
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	if got.Column != domain.ColumnDone || got.Verification != domain.VerificationApproved {
		t.Fatalf("replay reopened task: %s/%s", got.Column, got.Verification)
	}
}

func TestMembershipStates(t *testing.T) {
	env := newTestEnv(t)

	m, err := env.Engine.Membership(env.Ctx, env.Project, "dev")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.State != domain.MembershipActive || !m.Joined {
		t.Fatalf("collaborator state: %+v", m)
	}

	env.Repo.Invitations = append(env.Repo.Invitations, "newcomer")
	m, err = env.Engine.Membership(env.Ctx, env.Project, "newcomer")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.State != domain.MembershipInvited || m.Joined {
		t.Fatalf("invited state: %+v", m)
	}

	m, err = env.Engine.Membership(env.Ctx, env.Project, "stranger")
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if m.State != domain.MembershipNone {
		t.Fatalf("stranger state: %+v", m)
	}
}

func TestMembershipStaleCacheOnProviderOutage(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Membership(env.Ctx, env.Project, "dev"); err != nil {
		t.Fatalf("membership: %v", err)
	}

	// advance past the cache TTL and take the provider down
	later := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	env.Engine.Now = func() time.Time { return later }
	env.Fake.Err = provider.ErrUnavailable

	m, err := env.Engine.Membership(env.Ctx, env.Project, "dev")
	if err != nil {
		t.Fatalf("expected stale cache fallback, got %v", err)
	}
	if m.State != domain.MembershipActive {
		t.Fatalf("stale state = %q", m.State)
	}
}

func TestInviteMemberNeverDemotesActive(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.Membership(env.Ctx, env.Project, "dev"); err != nil {
		t.Fatalf("membership: %v", err)
	}

	m, err := env.Engine.InviteMember(env.Ctx, env.Project.ID, "dev", "owner")
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if m.State != domain.MembershipActive {
		t.Fatalf("re-invite demoted active member to %q", m.State)
	}

	m, err = env.Engine.InviteMember(env.Ctx, env.Project.ID, "newcomer", "owner")
	if err != nil {
		t.Fatalf("invite newcomer: %v", err)
	}
	if m.State != domain.MembershipInvited {
		t.Fatalf("newcomer state = %q", m.State)
	}
	// re-inviting a pending invitee is not an error
	if _, err := env.Engine.InviteMember(env.Ctx, env.Project.ID, "newcomer", "owner"); err != nil {
		t.Fatalf("repeat invite: %v", err)
	}
}

func TestNormalizeProjectTasksRemintsMalformedIDs(t *testing.T) {
	env := newTestEnv(t)
	env.importTask(t, "T-1", "Good", "")

	// sneak a malformed id past the import path
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	bad := domain.Task{
		ID:           "bad id with spaces",
		ProjectID:    env.Project.ID,
		Title:        "Bad",
		Column:       domain.ColumnTodo,
		Verification: domain.VerificationNotSubmitted,
		RepoLink:     domain.RepoLink{CheckStatus: domain.CheckIdle},
		CreatedAt:    "2026-03-01T12:00:00Z",
		UpdatedAt:    "2026-03-01T12:00:00Z",
	}
	if err := env.Engine.Repo.InsertTask(env.Ctx, tx, bad); err != nil {
		t.Fatalf("insert malformed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	tasks, err := env.Engine.NormalizeProjectTasks(env.Ctx, env.Project.ID, "owner")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	for _, task := range tasks {
		if task.ID == "bad id with spaces" {
			t.Fatalf("malformed id survived normalization")
		}
	}
	// normalization is idempotent
	again, err := env.Engine.NormalizeProjectTasks(env.Ctx, env.Project.ID, "owner")
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}
	if len(again) != len(tasks) {
		t.Fatalf("task count changed: %d -> %d", len(tasks), len(again))
	}
	for i := range tasks {
		if tasks[i].ID != again[i].ID {
			t.Fatalf("ids changed on repeat normalization: %s -> %s", tasks[i].ID, again[i].ID)
		}
	}
}
