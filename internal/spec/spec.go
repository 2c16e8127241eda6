// Package spec turns a task's free-text acceptance criteria into a
// structured, machine-checkable verification spec. The spec document is
// committed onto the task branch; the branch, not the primary store, is the
// source of truth for what was actually verified.
package spec

import (
	"fmt"
	"time"

	"checkline/internal/domain"
)

// SchemaVersion is bumped whenever the spec document shape changes.
const SchemaVersion = 1

// Rule kinds understood by the rule evaluation runner. Expectation type and
// title are presentation only; rules are the contract.
const (
	RuleExists   = "exists"
	RuleChanged  = "changed"
	RuleContains = "contains"
	RuleRegex    = "regex"
)

// Expectation types inferred from criteria text.
const (
	TypeHTTP     = "http"
	TypeContract = "contract"
	TypeCLI      = "cli"
	TypeUI       = "ui"
	TypeFile     = "file"
	TypeDB       = "db"
	TypeSecurity = "security"
	TypeUnknown  = "unknown"
)

type Rule struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Value string `json:"value,omitempty"`
}

type Expectation struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
	Rules []Rule `json:"rules"`
}

// VerificationSpec is the versioned document listing a task's expectations.
type VerificationSpec struct {
	TaskID        string        `json:"taskId"`
	Title         string        `json:"title"`
	Description   string        `json:"description,omitempty"`
	Stack         domain.Stack  `json:"stack"`
	SchemaVersion int           `json:"schemaVersion"`
	GeneratedAt   string        `json:"generatedAt"`
	Expectations  []Expectation `json:"expectations"`
}

// SpecDir is where spec documents live inside the target repository.
const SpecDir = ".checkline/specs"

// PathFor returns the spec file path for a task inside the target repo.
func PathFor(taskID string) string {
	return fmt.Sprintf("%s/%s.json", SpecDir, taskID)
}

// Build composes the extractor output with a normalized stack. It is a pure
// function of the task and clock; callers needing determinism fix now.
func Build(task domain.Task, stack domain.Stack, now time.Time) VerificationSpec {
	return VerificationSpec{
		TaskID:        task.ID,
		Title:         task.Title,
		Description:   task.Description,
		Stack:         NormalizeStack(stack),
		SchemaVersion: SchemaVersion,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		Expectations:  Extract(task),
	}
}

// DefaultStack is the fallback profile used when stack metadata is missing.
// Verification proceeds even with incomplete metadata.
var DefaultStack = domain.Stack{
	Language:       "javascript",
	Framework:      "express",
	TestRunner:     "jest",
	PackageManager: "npm",
}

// NormalizeStack fills unknown or missing fields from the default profile.
func NormalizeStack(s domain.Stack) domain.Stack {
	if s.Language == "" || s.Language == "unknown" {
		s.Language = DefaultStack.Language
	}
	if s.Framework == "" {
		s.Framework = DefaultStack.Framework
	}
	if s.TestRunner == "" {
		s.TestRunner = DefaultStack.TestRunner
	}
	if s.PackageManager == "" {
		s.PackageManager = DefaultStack.PackageManager
	}
	return s
}

// Checklist derives checklist items from a spec, preserving the status of
// items whose keys survive regeneration. Pass force to reset all to PENDING.
func Checklist(s VerificationSpec, previous []domain.ChecklistItem, force bool) []domain.ChecklistItem {
	prior := make(map[string]domain.ChecklistItem, len(previous))
	for _, item := range previous {
		prior[item.Key] = item
	}
	items := make([]domain.ChecklistItem, 0, len(s.Expectations))
	for _, exp := range s.Expectations {
		item := domain.ChecklistItem{Key: exp.Key, Text: exp.Title, Status: domain.ItemPending}
		if old, ok := prior[exp.Key]; ok && !force {
			item.Status = old.Status
			item.Details = old.Details
		}
		items = append(items, item)
	}
	return items
}
