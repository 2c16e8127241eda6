package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/provider"
	"checkline/internal/repo"
)

// Membership resolves a user's collaboration state on the project's linked
// repository. The state is derived from the provider's collaborator and
// invitation lists, never set directly; a cached row younger than the
// configured TTL is returned without a provider round trip.
func (e Engine) Membership(ctx context.Context, p domain.Project, userID string) (domain.RepoMembership, error) {
	cached, err := e.Repo.GetMembership(ctx, p.ID, userID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.RepoMembership{}, err
	}
	ttl := time.Duration(e.Config.Limits.MembershipCacheSeconds) * time.Second
	if err == nil && cached.CheckedAt != "" {
		if at, perr := time.Parse(time.RFC3339, cached.CheckedAt); perr == nil && e.now().UTC().Sub(at) < ttl {
			return cached, nil
		}
	}
	ref, rerr := repoOf(p)
	if rerr != nil {
		return domain.RepoMembership{}, rerr
	}
	if perr := e.requireProvider(); perr != nil {
		return domain.RepoMembership{}, perr
	}
	owner, name, serr := provider.SplitFullName(ref.FullName)
	if serr != nil {
		return domain.RepoMembership{}, newError(CodeInvalidRepoReference, "repository must be owner/name").wrap(serr)
	}
	collaborators, cerr := e.Provider.ListCollaborators(ctx, owner, name)
	if cerr != nil {
		// A stale answer beats a hard failure when the provider is down.
		if err == nil {
			e.Log.Warn("membership refresh failed, using cached state",
				zap.String("user", userID), zap.Error(cerr))
			return cached, nil
		}
		return domain.RepoMembership{}, cerr
	}
	invitations, ierr := e.Provider.ListInvitations(ctx, owner, name)
	if ierr != nil {
		if err == nil {
			return cached, nil
		}
		return domain.RepoMembership{}, ierr
	}

	now := e.now().UTC().Format(time.RFC3339)
	m := domain.RepoMembership{
		ProjectID: p.ID,
		UserID:    userID,
		State:     domain.MembershipNone,
		CheckedAt: now,
	}
	if err == nil {
		m.InvitedAt = cached.InvitedAt
		m.AcceptedAt = cached.AcceptedAt
	}
	switch {
	case containsLogin(collaborators, userID):
		m.State = domain.MembershipActive
		m.Joined = true
		if m.AcceptedAt == "" {
			m.AcceptedAt = now
		}
	case containsLogin(invitations, userID):
		m.State = domain.MembershipInvited
		// Joined stays false: an invited user has not accepted yet, even
		// when a stale record claims otherwise.
		if m.InvitedAt == "" {
			m.InvitedAt = now
		}
	}
	if err := e.Repo.UpsertMembership(ctx, m); err != nil {
		return domain.RepoMembership{}, err
	}
	return m, nil
}

// InviteMember invites a user to the project's linked repository and records
// the INVITED state. An invitation that is already pending is not an error.
func (e Engine) InviteMember(ctx context.Context, projectID, userID, actorID string) (domain.RepoMembership, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.RepoMembership{}, err
	}
	ref, err := repoOf(p)
	if err != nil {
		return domain.RepoMembership{}, err
	}
	if err := e.requireProvider(); err != nil {
		return domain.RepoMembership{}, err
	}
	if err := e.Orch.EnsureCollaborator(ctx, ref.FullName, userID); err != nil {
		if errors.Is(err, provider.ErrPermission) {
			return domain.RepoMembership{}, newError(CodePermissionDenied, "provider rejected the invitation").wrap(err)
		}
		return domain.RepoMembership{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.RepoMembership{
		ProjectID: p.ID,
		UserID:    userID,
		State:     domain.MembershipInvited,
		InvitedAt: now,
		CheckedAt: now,
	}
	if prev, gerr := e.Repo.GetMembership(ctx, p.ID, userID); gerr == nil && prev.State == domain.MembershipActive {
		// Already a collaborator; inviting again must not demote.
		return prev, nil
	}
	if err := e.Repo.UpsertMembership(ctx, m); err != nil {
		return domain.RepoMembership{}, err
	}
	if err := e.appendEvent(ctx, events.TypeMemberInvited, p.ID, "membership", userID, actorID,
		events.EventPayload{"repo": ref.FullName}); err != nil {
		return domain.RepoMembership{}, err
	}
	return m, nil
}

// requireActive gates mutating actions on ACTIVE membership. The legacy
// joined flag is ignored: an INVITED user with joined=true is still rejected.
func (e Engine) requireActive(ctx context.Context, p domain.Project, userID string) error {
	m, err := e.Membership(ctx, p, userID)
	if err != nil {
		return err
	}
	if m.State != domain.MembershipActive {
		apiErr := newError(CodeAccessRequired, "repository access required").
			with("state", m.State)
		if p.Repo != nil {
			apiErr = apiErr.with("invite_url", p.Repo.URL+"/invitations")
		}
		return apiErr
	}
	return nil
}

// appendEvent runs a single event append in its own transaction, for paths
// that have no surrounding task mutation.
func (e Engine) appendEvent(ctx context.Context, evtType, projectID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, projectID, entityKind, entityID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

func containsLogin(logins []string, login string) bool {
	for _, l := range logins {
		if l == login {
			return true
		}
	}
	return false
}
