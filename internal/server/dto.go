package server

import "checkline/internal/domain"

type CreateProjectRequest struct {
	Title       string `json:"title" minLength:"1" maxLength:"200"`
	Description string `json:"description,omitempty" maxLength:"4000"`
}

type LinkRepoRequest struct {
	FullName string `json:"full_name" example:"acme/storefront"`
}

type ProjectResponse struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	OwnerID     string          `json:"owner_id"`
	Repo        *domain.RepoRef `json:"repo,omitempty"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		OwnerID:     p.OwnerID,
		Repo:        p.Repo,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type ImportTaskRequest struct {
	ID                 string `json:"id,omitempty"`
	Title              string `json:"title" minLength:"1" maxLength:"200"`
	Description        string `json:"description,omitempty"`
	AcceptanceCriteria string `json:"acceptance_criteria,omitempty"`
}

type TaskResponse struct {
	ID                 string                 `json:"id"`
	ProjectID          string                 `json:"project_id"`
	Title              string                 `json:"title"`
	Description        string                 `json:"description,omitempty"`
	AcceptanceCriteria string                 `json:"acceptance_criteria,omitempty"`
	AssigneeID         *string                `json:"assignee_id,omitempty"`
	Column             string                 `json:"column" enum:"todo,doing,review,done"`
	Verification       string                 `json:"verification" enum:"not_submitted,submitted,approved,rejected"`
	RepoLink           domain.RepoLink        `json:"repo_link"`
	Checklist          []domain.ChecklistItem `json:"checklist,omitempty"`
	CreatedAt          string                 `json:"created_at" format:"date-time"`
	UpdatedAt          string                 `json:"updated_at" format:"date-time"`
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:                 t.ID,
		ProjectID:          t.ProjectID,
		Title:              t.Title,
		Description:        t.Description,
		AcceptanceCriteria: t.AcceptanceCriteria,
		AssigneeID:         t.AssigneeID,
		Column:             t.Column,
		Verification:       t.Verification,
		RepoLink:           t.RepoLink,
		Checklist:          t.Checklist,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

type MembershipResponse struct {
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	State      string `json:"state" enum:"none,invited,active"`
	Joined     bool   `json:"joined"`
	InvitedAt  string `json:"invited_at,omitempty" format:"date-time"`
	AcceptedAt string `json:"accepted_at,omitempty" format:"date-time"`
	CheckedAt  string `json:"checked_at,omitempty" format:"date-time"`
}

func membershipResponse(m domain.RepoMembership) MembershipResponse {
	return MembershipResponse{
		ProjectID:  m.ProjectID,
		UserID:     m.UserID,
		State:      m.State,
		Joined:     m.Joined,
		InvitedAt:  m.InvitedAt,
		AcceptedAt: m.AcceptedAt,
		CheckedAt:  m.CheckedAt,
	}
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			ProjectID:  e.ProjectID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}
