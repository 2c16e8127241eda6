// Package providertest provides an in-memory provider.Client for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"

	"checkline/internal/provider"
)

// Repo is the in-memory state behind one fake repository.
type Repo struct {
	DefaultBranch string
	HTMLURL       string
	// Branches maps branch name to head SHA.
	Branches map[string]string
	// Files maps "branch:path" to content.
	Files         map[string][]byte
	Collaborators []string
	Invitations   []string
	Runs          []provider.WorkflowRun
}

// Fake implements provider.Client against in-memory state. The zero value is
// usable; add repositories with AddRepo.
type Fake struct {
	mu    sync.Mutex
	repos map[string]*Repo

	Login string

	// Dispatches records every DispatchWorkflow call.
	Dispatches []Dispatch
	// Err, when set, is returned by every call. ErrOnce is cleared after
	// the first failing call, for retry tests.
	Err     error
	ErrOnce bool

	Puts    int
	Deletes []string
}

type Dispatch struct {
	Repo, Workflow, Ref string
	Inputs              map[string]any
}

func New() *Fake {
	return &Fake{repos: map[string]*Repo{}, Login: "checkline-bot"}
}

func (f *Fake) AddRepo(fullName string, r *Repo) *Repo {
	if r.Branches == nil {
		r.Branches = map[string]string{}
	}
	if r.Files == nil {
		r.Files = map[string][]byte{}
	}
	if r.DefaultBranch == "" {
		r.DefaultBranch = "main"
	}
	if _, ok := r.Branches[r.DefaultBranch]; !ok {
		r.Branches[r.DefaultBranch] = "sha-default"
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[fullName] = r
	return r
}

func (f *Fake) fail() error {
	if f.Err == nil {
		return nil
	}
	err := f.Err
	if f.ErrOnce {
		f.Err = nil
	}
	return err
}

func (f *Fake) repo(owner, name string) (*Repo, error) {
	r, ok := f.repos[owner+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", provider.ErrNotFound, owner, name)
	}
	return r, nil
}

func (f *Fake) GetRepository(_ context.Context, owner, name string) (provider.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return provider.Repository{}, err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return provider.Repository{}, err
	}
	return provider.Repository{
		FullName:      owner + "/" + name,
		DefaultBranch: r.DefaultBranch,
		HTMLURL:       r.HTMLURL,
	}, nil
}

func (f *Fake) GetBranchHead(_ context.Context, owner, name, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return "", err
	}
	sha, ok := r.Branches[branch]
	if !ok {
		return "", fmt.Errorf("%w: branch %s", provider.ErrNotFound, branch)
	}
	return sha, nil
}

func (f *Fake) CreateBranch(_ context.Context, owner, name, branch, fromSHA string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return err
	}
	if _, ok := r.Branches[branch]; ok {
		return fmt.Errorf("%w: branch %s", provider.ErrConflict, branch)
	}
	r.Branches[branch] = fromSHA
	return nil
}

func (f *Fake) DeleteBranch(_ context.Context, owner, name, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return err
	}
	if _, ok := r.Branches[branch]; !ok {
		return fmt.Errorf("%w: branch %s", provider.ErrNotFound, branch)
	}
	delete(r.Branches, branch)
	f.Deletes = append(f.Deletes, owner+"/"+name+":"+branch)
	return nil
}

func (f *Fake) GetFile(_ context.Context, owner, name, path, ref string) (provider.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return provider.File{}, err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return provider.File{}, err
	}
	content, ok := r.Files[ref+":"+path]
	if !ok {
		return provider.File{}, fmt.Errorf("%w: %s@%s", provider.ErrNotFound, path, ref)
	}
	return provider.File{Content: content, SHA: fmt.Sprintf("blob-%d", len(content))}, nil
}

func (f *Fake) PutFile(_ context.Context, owner, name, branch, path, _ string, content []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return err
	}
	r.Files[branch+":"+path] = content
	// A commit moves the branch head.
	r.Branches[branch] = fmt.Sprintf("sha-%s-%d", branch, f.Puts)
	f.Puts++
	return nil
}

func (f *Fake) DispatchWorkflow(_ context.Context, owner, name, workflowFile, ref string, inputs map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	if _, err := f.repo(owner, name); err != nil {
		return err
	}
	f.Dispatches = append(f.Dispatches, Dispatch{
		Repo: owner + "/" + name, Workflow: workflowFile, Ref: ref, Inputs: inputs,
	})
	return nil
}

func (f *Fake) ListWorkflowRuns(_ context.Context, owner, name, _, branch string) ([]provider.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return nil, err
	}
	var out []provider.WorkflowRun
	for _, run := range r.Runs {
		if run.Branch == branch {
			out = append(out, run)
		}
	}
	return out, nil
}

func (f *Fake) ListCollaborators(_ context.Context, owner, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), r.Collaborators...), nil
}

func (f *Fake) ListInvitations(_ context.Context, owner, name string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), r.Invitations...), nil
}

func (f *Fake) InviteCollaborator(_ context.Context, owner, name, login string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	r, err := f.repo(owner, name)
	if err != nil {
		return err
	}
	for _, l := range r.Invitations {
		if l == login {
			return fmt.Errorf("%w: %s already invited", provider.ErrConflict, login)
		}
	}
	r.Invitations = append(r.Invitations, login)
	return nil
}

func (f *Fake) AuthenticatedLogin(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	return f.Login, nil
}

var _ provider.Client = (*Fake)(nil)
