package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGeneratedDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	if err != nil {
		t.Fatalf("parse generated default: %v", err)
	}
	if cfg.Provider.Kind != "github" {
		t.Fatalf("provider kind = %q", cfg.Provider.Kind)
	}
	if cfg.Verify.WorkflowFile != "checkline-verify.yml" {
		t.Fatalf("workflow file = %q", cfg.Verify.WorkflowFile)
	}
	if cfg.Verify.BranchPrefix != "checkline/" {
		t.Fatalf("branch prefix = %q", cfg.Verify.BranchPrefix)
	}
	if !cfg.Limits.ProviderRetryOnTransient {
		t.Fatalf("expected retry enabled in generated default")
	}
	if cfg.Stack.Default.Language != "javascript" || cfg.Stack.Default.Framework != "express" {
		t.Fatalf("stack stanza did not round-trip: %+v", cfg.Stack.Default)
	}
	if cfg.Stack.Default.TestRunner != "jest" || cfg.Stack.Default.PackageManager != "npm" {
		t.Fatalf("stack stanza did not round-trip: %+v", cfg.Stack.Default)
	}
}

func TestStackDeclarationIsKept(t *testing.T) {
	yml := "stack:\n  default:\n    language: python\n    test_runner: pytest\n    package_manager: poetry\n"
	cfg, err := FromYAML([]byte(yml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s := cfg.Stack.Default
	if s.Language != "python" || s.TestRunner != "pytest" || s.PackageManager != "poetry" {
		t.Fatalf("declared stack fields were dropped: %+v", s)
	}
	// only the undeclared field gets the default
	if s.Framework != "express" {
		t.Fatalf("framework default = %q", s.Framework)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"bad provider", "provider:\n  kind: gitlab\n"},
		{"workflow path", "verify:\n  workflow_file: nested/verify.yml\n"},
		{"workflow extension", "verify:\n  workflow_file: verify.txt\n"},
		{"bad branch prefix", "verify:\n  branch_prefix: \"bad prefix/\"\n"},
		{"negative doing limit", "limits:\n  max_doing_per_user: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromYAML([]byte(tc.yaml)); err == nil {
				t.Fatalf("expected error for %q", tc.yaml)
			}
		})
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Verify.BranchPrefix != "checkline/" {
		t.Fatalf("expected default config, got prefix %q", cfg.Verify.BranchPrefix)
	}

	custom := "verify:\n  branch_prefix: verify/\n"
	if err := os.WriteFile(filepath.Join(dir, "checkline.yml"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional with file: %v", err)
	}
	if cfg.Verify.BranchPrefix != "verify/" {
		t.Fatalf("branch prefix = %q", cfg.Verify.BranchPrefix)
	}
}

func TestTokenReadsConfiguredEnv(t *testing.T) {
	cfg := Default()
	t.Setenv(cfg.Provider.TokenEnv, "tok-123")
	if cfg.Token() != "tok-123" {
		t.Fatalf("token = %q", cfg.Token())
	}
}
