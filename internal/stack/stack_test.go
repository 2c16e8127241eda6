package stack_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/domain"
	"checkline/internal/spec"
	"checkline/internal/stack"
)

func sampleSpec(t *testing.T) spec.VerificationSpec {
	t.Helper()
	task := domain.Task{
		ID:                 "T-200",
		Title:              "Order intake",
		AcceptanceCriteria: "- expose POST /orders endpoint\n- persist order in database",
	}
	return spec.Build(task, spec.DefaultStack, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
}

func TestSelectPicksFirstMatch(t *testing.T) {
	r := stack.Default()

	cases := []struct {
		name  string
		stack domain.Stack
		want  string
	}{
		{"solidity before jest", domain.Stack{Language: "solidity", TestRunner: "hardhat"}, "hardhat"},
		{"vue picks vitest", domain.Stack{Language: "typescript", Framework: "vue"}, "vitest"},
		{"express picks jest", domain.Stack{Language: "javascript", Framework: "express", TestRunner: "jest"}, "jest"},
		{"python picks pytest", domain.Stack{Language: "python", Framework: "fastapi"}, "pytest"},
		{"kotlin picks gradle", domain.Stack{Language: "kotlin", TestRunner: "junit5"}, "gradle"},
		{"laravel picks phpunit", domain.Stack{Language: "php", Framework: "laravel"}, "phpunit"},
		{"unknown falls back", domain.Stack{Language: "cobol"}, "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Select(tc.stack).Name())
		})
	}
}

func TestJestScaffoldCoversEveryExpectation(t *testing.T) {
	vs := sampleSpec(t)
	sc := stack.Default().Select(domain.Stack{TestRunner: "jest"}).Generate(vs)

	require.Len(t, sc.Files, 1)
	path := ".checkline/tests/T-200.test.js"
	content, ok := sc.Files[path]
	require.True(t, ok, "expected suite at %s", path)
	assert.Contains(t, content, "doc.taskId).toBe('T-200')")
	for _, e := range vs.Expectations {
		assert.Contains(t, content, e.Key)
	}
	assert.Equal(t, "npm ci", sc.InstallCommand)
	assert.Contains(t, sc.TestCommand, path)
}

func TestHardhatScaffoldLivesUnderTestDir(t *testing.T) {
	vs := sampleSpec(t)
	sc := stack.Default().Select(domain.Stack{Language: "solidity"}).Generate(vs)

	require.Len(t, sc.Files, 1)
	for path := range sc.Files {
		assert.True(t, strings.HasPrefix(path, "test/"), "hardhat suites must live under test/, got %s", path)
	}
	assert.Contains(t, sc.TestCommand, "hardhat test")
}

func TestPytestScaffoldUsesPythonIdentifiers(t *testing.T) {
	task := domain.Task{ID: "T-201.fix", Title: "x", AcceptanceCriteria: "- persist order in database"}
	vs := spec.Build(task, domain.Stack{Language: "python"}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	sc := stack.Default().Select(domain.Stack{Language: "python"}).Generate(vs)

	content, ok := sc.Files[".checkline/tests/test_t_201_fix.py"]
	require.True(t, ok)
	assert.Contains(t, content, "def test_spec_targets_this_task():")
	assert.Contains(t, content, "def test_expectation_1_persist_order_in_database_1():")
	assert.NotContains(t, content, "def test_expectation_1_persist-")
}

func TestFallbackScaffoldFailsOnPurpose(t *testing.T) {
	vs := sampleSpec(t)
	sc := stack.Default().Select(domain.Stack{Language: "cobol"}).Generate(vs)

	content, ok := sc.Files[".checkline/tests/T-200.todo.sh"]
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(content, "exit 1\n"), "fallback suite must exit nonzero")
	for _, e := range vs.Expectations {
		assert.Contains(t, content, e.Key)
	}
}

func TestRegistryOrderIsCallerControlled(t *testing.T) {
	// a registry without the fallback returns nil for unmatched stacks
	r := stack.NewRegistry()
	assert.Nil(t, r.Select(domain.Stack{Language: "cobol"}))
}
