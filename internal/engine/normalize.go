package engine

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/repo"
)

// Task ids travel in branch names, file paths and workflow inputs, so they
// are restricted to a safe shape.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func validTaskID(id string) bool {
	return taskIDPattern.MatchString(id)
}

func mintTaskID(projectID, title, now string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(projectID+"|"+title+"|"+now)).String()
}

// NormalizeProjectTasks validates every task identifier in a project and
// replaces malformed or colliding ones, persisting replacements immediately.
// It is idempotent; the lifecycle operations call it before mutating so they
// can assume identifier integrity.
func (e Engine) NormalizeProjectTasks(ctx context.Context, projectID, actorID string) ([]domain.Task, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(tasks))
	now := e.now().UTC().Format(time.RFC3339)
	for i, t := range tasks {
		if validTaskID(t.ID) && !seen[t.ID] {
			seen[t.ID] = true
			continue
		}
		newID := mintTaskID(t.ProjectID, t.Title+"|"+t.CreatedAt, now)
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		if err := e.Repo.ReplaceTaskID(ctx, tx, t.ID, newID); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := e.Events.Append(ctx, tx, events.TypeTaskNormalized, t.ProjectID, "task", newID, actorID,
			events.EventPayload{"previous_id": t.ID}); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		e.Log.Info("task id normalized",
			zap.String("project", t.ProjectID),
			zap.String("old", t.ID),
			zap.String("new", newID))
		tasks[i].ID = newID
		seen[newID] = true
	}
	return tasks, nil
}
