package spec_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/domain"
	"checkline/internal/spec"
)

func TestExtractFromBulletCriteria(t *testing.T) {
	task := domain.Task{
		ID:                 "T-100",
		Title:              "Order intake",
		AcceptanceCriteria: "- expose POST /orders endpoint\n- persist order in database\nnot a bullet",
	}
	exps := spec.Extract(task)
	require.Len(t, exps, 2)

	assert.Equal(t, "expose-post-orders-endpoint-1", exps[0].Key)
	assert.Equal(t, spec.TypeHTTP, exps[0].Type)
	assert.Equal(t, "persist-order-in-database-2", exps[1].Key)
	assert.Equal(t, spec.TypeDB, exps[1].Type)

	// every expectation carries a changed rule plus spec presence rules
	for _, exp := range exps {
		require.Len(t, exp.Rules, 3)
		assert.Equal(t, spec.RuleChanged, exp.Rules[0].Kind)
		assert.Equal(t, spec.RuleExists, exp.Rules[1].Kind)
		assert.Equal(t, spec.PathFor("T-100"), exp.Rules[1].Path)
		assert.Equal(t, spec.RuleContains, exp.Rules[2].Kind)
		assert.Equal(t, exp.Key, exp.Rules[2].Value)
	}
}

func TestExtractFallsBackToDescriptionSentences(t *testing.T) {
	task := domain.Task{
		ID:          "T-101",
		Title:       "Login page",
		Description: "Render the signup form. Validate the token on submit.",
	}
	exps := spec.Extract(task)
	require.Len(t, exps, 2)
	assert.Equal(t, spec.TypeUI, exps[0].Type)
	assert.Equal(t, spec.TypeSecurity, exps[1].Type)
}

func TestExtractFallsBackToTitle(t *testing.T) {
	task := domain.Task{ID: "T-102", Title: "Ship the widget"}
	exps := spec.Extract(task)
	require.Len(t, exps, 1)
	assert.Equal(t, "ship-the-widget-1", exps[0].Key)
	assert.Equal(t, spec.TypeUnknown, exps[0].Type)
}

func TestExtractIsDeterministic(t *testing.T) {
	task := domain.Task{
		ID:                 "T-103",
		Title:              "Stuff",
		AcceptanceCriteria: "- add CLI command\n- add CLI command",
	}
	first := spec.Extract(task)
	second := spec.Extract(task)
	require.Equal(t, first, second)
	// identical lines still get unique keys
	assert.NotEqual(t, first[0].Key, first[1].Key)
}

func TestBuildStampsSchemaAndClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := domain.Task{ID: "T-104", Title: "A thing", AcceptanceCriteria: "- do the thing"}
	s := spec.Build(task, domain.Stack{}, now)
	assert.Equal(t, spec.SchemaVersion, s.SchemaVersion)
	assert.Equal(t, "2026-03-01T12:00:00Z", s.GeneratedAt)
	assert.Equal(t, spec.DefaultStack, s.Stack)
	require.Len(t, s.Expectations, 1)
}

func TestNormalizeStackFillsGaps(t *testing.T) {
	s := spec.NormalizeStack(domain.Stack{Language: "python", TestRunner: "pytest"})
	assert.Equal(t, "python", s.Language)
	assert.Equal(t, "pytest", s.TestRunner)
	assert.Equal(t, spec.DefaultStack.Framework, s.Framework)
	assert.Equal(t, spec.DefaultStack.PackageManager, s.PackageManager)

	unknown := spec.NormalizeStack(domain.Stack{Language: "unknown"})
	assert.Equal(t, spec.DefaultStack.Language, unknown.Language)
}

func TestChecklistPreservesSurvivingKeys(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := domain.Task{ID: "T-105", Title: "x", AcceptanceCriteria: "- first item\n- second item"}
	s := spec.Build(task, spec.DefaultStack, now)

	previous := []domain.ChecklistItem{
		{Key: "first-item-1", Text: "first item", Status: domain.ItemPassed, Details: "ok"},
		{Key: "stale-key-9", Text: "gone", Status: domain.ItemFailed},
	}
	items := spec.Checklist(s, previous, false)
	require.Len(t, items, 2)
	assert.Equal(t, domain.ItemPassed, items[0].Status)
	assert.Equal(t, "ok", items[0].Details)
	assert.Equal(t, domain.ItemPending, items[1].Status)

	forced := spec.Checklist(s, previous, true)
	for _, item := range forced {
		assert.Equal(t, domain.ItemPending, item.Status)
	}
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "expose-post-orders", spec.Slugify("Expose POST /orders!"))
	assert.Equal(t, "expectation", spec.Slugify("???"))
	long := spec.Slugify("a very long line of text that keeps going and going and going past the cap")
	assert.LessOrEqual(t, len(long), 49)
}
