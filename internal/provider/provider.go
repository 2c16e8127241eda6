// Package provider abstracts the external code-hosting provider. The engine
// and orchestrator talk to the Client interface; the only real implementation
// wraps the GitHub REST API. Tests substitute a fake.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors the orchestrator and engine branch on. Implementations
// translate provider-specific failures into these.
var (
	// ErrNotFound covers missing repositories, refs, files and users.
	ErrNotFound = errors.New("provider: not found")
	// ErrConflict covers "already exists" responses, e.g. creating a ref
	// that is already there.
	ErrConflict = errors.New("provider: conflict")
	// ErrPermission covers authentication and authorization failures.
	ErrPermission = errors.New("provider: permission denied")
	// ErrUnavailable covers transient transport failures worth one retry.
	ErrUnavailable = errors.New("provider: unavailable")
)

// Repository is the subset of repository metadata the engine needs.
type Repository struct {
	FullName      string
	DefaultBranch string
	HTMLURL       string
	Private       bool
}

// File is a file fetched from a branch. SHA is the provider's blob version
// token, required when updating the file in place.
type File struct {
	Content []byte
	SHA     string
}

// WorkflowRun is one CI run on a branch. Conclusion is empty while the run
// is still in progress.
type WorkflowRun struct {
	ID         int64
	Status     string
	Conclusion string
	HTMLURL    string
	Branch     string
	CreatedAt  time.Time
}

// Client is the provider surface used by the orchestrator, the membership
// tracker and the webhook receiver. All calls honor ctx deadlines.
type Client interface {
	GetRepository(ctx context.Context, owner, name string) (Repository, error)
	GetBranchHead(ctx context.Context, owner, name, branch string) (string, error)
	CreateBranch(ctx context.Context, owner, name, branch, fromSHA string) error
	DeleteBranch(ctx context.Context, owner, name, branch string) error

	GetFile(ctx context.Context, owner, name, path, ref string) (File, error)
	PutFile(ctx context.Context, owner, name, branch, path, message string, content []byte, sha string) error

	DispatchWorkflow(ctx context.Context, owner, name, workflowFile, ref string, inputs map[string]any) error
	ListWorkflowRuns(ctx context.Context, owner, name, workflowFile, branch string) ([]WorkflowRun, error)

	ListCollaborators(ctx context.Context, owner, name string) ([]string, error)
	ListInvitations(ctx context.Context, owner, name string) ([]string, error)
	InviteCollaborator(ctx context.Context, owner, name, login string) error

	AuthenticatedLogin(ctx context.Context) (string, error)
}

// SplitFullName parses "owner/name" repository references.
func SplitFullName(fullName string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository reference %q", fullName)
	}
	return owner, name, nil
}
