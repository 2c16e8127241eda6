package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// githubClient implements Client against the GitHub REST API.
type githubClient struct {
	gh *github.Client
}

// NewGitHub builds a Client authenticated with a personal access token or
// installation token.
func NewGitHub(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &githubClient{gh: github.NewClient(oauth2.NewClient(ctx, ts))}, nil
}

// NewGitHubFromClient wraps an existing go-github client, mainly so tests
// can point it at a local test server.
func NewGitHubFromClient(gh *github.Client) Client {
	return &githubClient{gh: gh}
}

func (c *githubClient) GetRepository(ctx context.Context, owner, name string) (Repository, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repository{}, translate(err)
	}
	return Repository{
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
		Private:       r.GetPrivate(),
	}, nil
}

func (c *githubClient) GetBranchHead(ctx context.Context, owner, name, branch string) (string, error) {
	ref, _, err := c.gh.Git.GetRef(ctx, owner, name, "refs/heads/"+branch)
	if err != nil {
		return "", translate(err)
	}
	return ref.GetObject().GetSHA(), nil
}

func (c *githubClient) CreateBranch(ctx context.Context, owner, name, branch, fromSHA string) error {
	_, _, err := c.gh.Git.CreateRef(ctx, owner, name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(fromSHA)},
	})
	return translate(err)
}

func (c *githubClient) DeleteBranch(ctx context.Context, owner, name, branch string) error {
	_, err := c.gh.Git.DeleteRef(ctx, owner, name, "refs/heads/"+branch)
	return translate(err)
}

func (c *githubClient) GetFile(ctx context.Context, owner, name, path, ref string) (File, error) {
	f, _, _, err := c.gh.Repositories.GetContents(ctx, owner, name, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return File{}, translate(err)
	}
	if f == nil {
		// Path resolved to a directory.
		return File{}, fmt.Errorf("%w: %s is not a file", ErrNotFound, path)
	}
	content, err := f.GetContent()
	if err != nil {
		return File{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return File{Content: []byte(content), SHA: f.GetSHA()}, nil
}

func (c *githubClient) PutFile(ctx context.Context, owner, name, branch, path, message string, content []byte, sha string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}
	if sha != "" {
		opts.SHA = github.String(sha)
		_, _, err := c.gh.Repositories.UpdateFile(ctx, owner, name, path, opts)
		return translate(err)
	}
	_, _, err := c.gh.Repositories.CreateFile(ctx, owner, name, path, opts)
	return translate(err)
}

func (c *githubClient) DispatchWorkflow(ctx context.Context, owner, name, workflowFile, ref string, inputs map[string]any) error {
	_, err := c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, owner, name, workflowFile, github.CreateWorkflowDispatchEventRequest{
		Ref:    ref,
		Inputs: inputs,
	})
	return translate(err)
}

func (c *githubClient) ListWorkflowRuns(ctx context.Context, owner, name, workflowFile, branch string) ([]WorkflowRun, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, owner, name, workflowFile, &github.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		return nil, translate(err)
	}
	out := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, WorkflowRun{
			ID:         r.GetID(),
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
			HTMLURL:    r.GetHTMLURL(),
			Branch:     r.GetHeadBranch(),
			CreatedAt:  r.GetCreatedAt().Time,
		})
	}
	return out, nil
}

func (c *githubClient) ListCollaborators(ctx context.Context, owner, name string) ([]string, error) {
	var logins []string
	opts := &github.ListCollaboratorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		users, resp, err := c.gh.Repositories.ListCollaborators(ctx, owner, name, opts)
		if err != nil {
			return nil, translate(err)
		}
		for _, u := range users {
			logins = append(logins, u.GetLogin())
		}
		if resp.NextPage == 0 {
			return logins, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *githubClient) ListInvitations(ctx context.Context, owner, name string) ([]string, error) {
	var logins []string
	opts := &github.ListOptions{PerPage: 100}
	for {
		invites, resp, err := c.gh.Repositories.ListInvitations(ctx, owner, name, opts)
		if err != nil {
			return nil, translate(err)
		}
		for _, inv := range invites {
			logins = append(logins, inv.GetInvitee().GetLogin())
		}
		if resp.NextPage == 0 {
			return logins, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *githubClient) InviteCollaborator(ctx context.Context, owner, name, login string) error {
	_, _, err := c.gh.Repositories.AddCollaborator(ctx, owner, name, login, &github.RepositoryAddCollaboratorOptions{
		Permission: "push",
	})
	return translate(err)
}

func (c *githubClient) AuthenticatedLogin(ctx context.Context) (string, error) {
	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", translate(err)
	}
	return u.GetLogin(), nil
}

// translate maps go-github errors onto the package sentinels so callers never
// import the GitHub types.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var gerr *github.ErrorResponse
	if errors.As(err, &gerr) && gerr.Response != nil {
		switch gerr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrPermission, gerr.Message)
		case http.StatusUnprocessableEntity:
			if strings.Contains(strings.ToLower(gerr.Message), "already exists") {
				return fmt.Errorf("%w: %s", ErrConflict, gerr.Message)
			}
			return err
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %s", ErrUnavailable, gerr.Message)
		}
		return err
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Errorf("%w: rate limited until %s", ErrUnavailable, rl.Rate.Reset)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
