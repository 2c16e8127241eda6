package domain

// Column is a task's board position.
const (
	ColumnTodo   = "todo"
	ColumnDoing  = "doing"
	ColumnReview = "review"
	ColumnDone   = "done"
)

// Verification status axis.
const (
	VerificationNotSubmitted = "not_submitted"
	VerificationSubmitted    = "submitted"
	VerificationApproved     = "approved"
	VerificationRejected     = "rejected"
)

// Repo check status axis.
const (
	CheckIdle    = "idle"
	CheckPending = "pending"
	CheckPassed  = "passed"
	CheckFailed  = "failed"
)

// Repo membership states, derived from the provider's collaborator and
// invitation lists.
const (
	MembershipNone    = "none"
	MembershipInvited = "invited"
	MembershipActive  = "active"
)

// Checklist item statuses.
const (
	ItemPending = "PENDING"
	ItemPassed  = "PASSED"
	ItemFailed  = "FAILED"
)

type Project struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	OwnerID     string   `json:"owner_id"`
	Repo        *RepoRef `json:"repo,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

// RepoRef is the external repository linked to a project.
type RepoRef struct {
	Provider string `json:"provider"`
	FullName string `json:"full_name"`
	URL      string `json:"url,omitempty"`
}

type Task struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	AcceptanceCriteria string          `json:"acceptance_criteria,omitempty"`
	AssigneeID         *string         `json:"assignee_id,omitempty"`
	Column             string          `json:"column" enum:"todo,doing,review,done"`
	Verification       string          `json:"verification" enum:"not_submitted,submitted,approved,rejected"`
	RepoLink           RepoLink        `json:"repo_link"`
	Checklist          []ChecklistItem `json:"checklist,omitempty"`
	CreatedAt          string          `json:"created_at" format:"date-time"`
	UpdatedAt          string          `json:"updated_at" format:"date-time"`
}

// RepoLink holds the per-task branch and the latest remote check outcome.
// The branch, once created, is reused for the lifetime of the task unless
// the task is released back to unassigned.
type RepoLink struct {
	Provider    string `json:"provider,omitempty"`
	FullName    string `json:"full_name,omitempty"`
	Branch      string `json:"branch,omitempty"`
	CheckStatus string `json:"check_status" enum:"idle,pending,passed,failed"`
	CheckURL    string `json:"check_url,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty" format:"date-time"`
}

// ChecklistItem mirrors one expectation of the task's verification spec.
type ChecklistItem struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Status  string `json:"status" enum:"PENDING,PASSED,FAILED"`
	Details string `json:"details,omitempty"`
}

// RepoMembership caches a user's collaboration state on a project's linked
// repository. It is derived from the provider, never set directly; CheckedAt
// bounds how often the provider is re-queried.
type RepoMembership struct {
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	State      string `json:"state" enum:"none,invited,active"`
	Joined     bool   `json:"joined"`
	InvitedAt  string `json:"invited_at,omitempty" format:"date-time"`
	AcceptedAt string `json:"accepted_at,omitempty" format:"date-time"`
	CheckedAt  string `json:"checked_at,omitempty" format:"date-time"`
}

// Stack describes a project's declared technology stack. It is embedded in
// spec documents (json) and declared in checkline.yml (yaml), so both tag
// sets share the snake_case key names.
type Stack struct {
	Language       string `json:"language,omitempty" yaml:"language"`
	Framework      string `json:"framework,omitempty" yaml:"framework"`
	TestRunner     string `json:"test_runner,omitempty" yaml:"test_runner"`
	PackageManager string `json:"package_manager,omitempty" yaml:"package_manager"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
