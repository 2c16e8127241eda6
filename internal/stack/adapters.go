package stack

import (
	"fmt"
	"strings"

	"checkline/internal/domain"
	"checkline/internal/spec"
)

// scaffoldDir is where generated suites live in the target repository,
// except for stacks whose tooling requires a fixed test location.
const scaffoldDir = ".checkline/tests"

// --- jest: generic JavaScript/TypeScript projects ---

type jestAdapter struct{}

func (jestAdapter) Name() string { return "jest" }

func (jestAdapter) Match(s domain.Stack) bool {
	return hasAny(s.TestRunner, "jest") ||
		hasAny(s.Language, "javascript", "typescript", "node", "nodejs") ||
		hasAny(s.Framework, "express", "nest", "nestjs", "next", "nextjs", "react")
}

func (jestAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	path := fmt.Sprintf("%s/%s.test.js", scaffoldDir, vs.TaskID)
	var b strings.Builder
	fmt.Fprintf(&b, "// Verification scaffold for task %s. The spec assertions keep this suite\n", vs.TaskID)
	b.WriteString("// honest; add behavior assertions below each expectation block.\n")
	b.WriteString("const fs = require('fs');\n\n")
	fmt.Fprintf(&b, "const doc = JSON.parse(fs.readFileSync('%s', 'utf8'));\n\n", spec.PathFor(vs.TaskID))
	fmt.Fprintf(&b, "describe('verification spec %s', () => {\n", vs.TaskID)
	b.WriteString("  test('spec targets this task', () => {\n")
	fmt.Fprintf(&b, "    expect(doc.taskId).toBe('%s');\n", vs.TaskID)
	b.WriteString("    expect(Array.isArray(doc.expectations)).toBe(true);\n")
	b.WriteString("  });\n")
	for _, e := range vs.Expectations {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  test(%s, () => {\n", jsString("expectation "+e.Key))
		fmt.Fprintf(&b, "    expect(doc.expectations.some((e) => e.key === '%s')).toBe(true);\n", e.Key)
		fmt.Fprintf(&b, "    // TODO: assert the behavior behind %s.\n", jsString(e.Title))
		b.WriteString("  });\n")
	}
	b.WriteString("});\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "npm ci",
		TestCommand:    fmt.Sprintf("npx jest %s --runInBand", path),
	}
}

// --- vitest: component-framework frontends ---

type vitestAdapter struct{}

func (vitestAdapter) Name() string { return "vitest" }

func (vitestAdapter) Match(s domain.Stack) bool {
	return hasAny(s.TestRunner, "vitest") ||
		hasAny(s.Framework, "vue", "nuxt", "svelte", "sveltekit", "vite", "astro")
}

func (vitestAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	path := fmt.Sprintf("%s/%s.test.ts", scaffoldDir, vs.TaskID)
	var b strings.Builder
	fmt.Fprintf(&b, "// Verification scaffold for task %s.\n", vs.TaskID)
	b.WriteString("import { describe, expect, test } from 'vitest';\n")
	b.WriteString("import { readFileSync } from 'node:fs';\n\n")
	fmt.Fprintf(&b, "const doc = JSON.parse(readFileSync('%s', 'utf8'));\n\n", spec.PathFor(vs.TaskID))
	fmt.Fprintf(&b, "describe('verification spec %s', () => {\n", vs.TaskID)
	b.WriteString("  test('spec targets this task', () => {\n")
	fmt.Fprintf(&b, "    expect(doc.taskId).toBe('%s');\n", vs.TaskID)
	b.WriteString("    expect(Array.isArray(doc.expectations)).toBe(true);\n")
	b.WriteString("  });\n")
	for _, e := range vs.Expectations {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  test(%s, () => {\n", jsString("expectation "+e.Key))
		fmt.Fprintf(&b, "    expect(doc.expectations.some((e: { key: string }) => e.key === '%s')).toBe(true);\n", e.Key)
		fmt.Fprintf(&b, "    // TODO: assert the behavior behind %s.\n", jsString(e.Title))
		b.WriteString("  });\n")
	}
	b.WriteString("});\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "npm ci",
		TestCommand:    fmt.Sprintf("npx vitest run %s", path),
	}
}

// --- hardhat: solidity contract projects ---

type hardhatAdapter struct{}

func (hardhatAdapter) Name() string { return "hardhat" }

func (hardhatAdapter) Match(s domain.Stack) bool {
	return hasAny(s.Language, "solidity") ||
		hasAny(s.Framework, "hardhat", "truffle") ||
		hasAny(s.TestRunner, "hardhat")
}

func (hardhatAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	// Hardhat only discovers suites under test/, so this one does not live
	// in the scaffold dir.
	path := fmt.Sprintf("test/checkline.%s.js", vs.TaskID)
	var b strings.Builder
	fmt.Fprintf(&b, "// Verification scaffold for task %s.\n", vs.TaskID)
	b.WriteString("const { expect } = require('chai');\n")
	b.WriteString("const fs = require('fs');\n\n")
	fmt.Fprintf(&b, "const doc = JSON.parse(fs.readFileSync('%s', 'utf8'));\n\n", spec.PathFor(vs.TaskID))
	fmt.Fprintf(&b, "describe('verification spec %s', function () {\n", vs.TaskID)
	b.WriteString("  it('spec targets this task', function () {\n")
	fmt.Fprintf(&b, "    expect(doc.taskId).to.equal('%s');\n", vs.TaskID)
	b.WriteString("    expect(doc.expectations).to.be.an('array');\n")
	b.WriteString("  });\n")
	for _, e := range vs.Expectations {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  it(%s, function () {\n", jsString("expectation "+e.Key))
		fmt.Fprintf(&b, "    expect(doc.expectations.map((e) => e.key)).to.include('%s');\n", e.Key)
		fmt.Fprintf(&b, "    // TODO: exercise the contract behind %s.\n", jsString(e.Title))
		b.WriteString("  });\n")
	}
	b.WriteString("});\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "npm ci",
		TestCommand:    fmt.Sprintf("npx hardhat test %s", path),
	}
}

// --- pytest: python projects ---

type pytestAdapter struct{}

func (pytestAdapter) Name() string { return "pytest" }

func (pytestAdapter) Match(s domain.Stack) bool {
	return hasAny(s.Language, "python") ||
		hasAny(s.TestRunner, "pytest") ||
		hasAny(s.Framework, "django", "flask", "fastapi")
}

func (pytestAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	path := fmt.Sprintf("%s/test_%s.py", scaffoldDir, pyIdent(vs.TaskID))
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification scaffold for task %s.\n", vs.TaskID)
	b.WriteString("import json\n\n\n")
	b.WriteString("def _load():\n")
	fmt.Fprintf(&b, "    with open(%q) as fh:\n", spec.PathFor(vs.TaskID))
	b.WriteString("        return json.load(fh)\n\n\n")
	b.WriteString("def test_spec_targets_this_task():\n")
	b.WriteString("    doc = _load()\n")
	fmt.Fprintf(&b, "    assert doc[\"taskId\"] == %q\n", vs.TaskID)
	b.WriteString("    assert isinstance(doc[\"expectations\"], list)\n")
	for i, e := range vs.Expectations {
		b.WriteString("\n\n")
		fmt.Fprintf(&b, "def test_expectation_%d_%s():\n", i+1, pyIdent(e.Key))
		b.WriteString("    doc = _load()\n")
		fmt.Fprintf(&b, "    assert any(e[\"key\"] == %q for e in doc[\"expectations\"])\n", e.Key)
		fmt.Fprintf(&b, "    # TODO: assert the behavior behind %q.\n", e.Title)
	}
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "pip install pytest",
		TestCommand:    fmt.Sprintf("pytest %s", path),
	}
}

// --- gradle: JVM projects with JUnit 5 ---

type gradleAdapter struct{}

func (gradleAdapter) Name() string { return "gradle" }

func (gradleAdapter) Match(s domain.Stack) bool {
	return hasAny(s.Language, "java", "kotlin") ||
		hasAny(s.TestRunner, "junit", "junit5") ||
		hasAny(s.Framework, "spring", "spring-boot", "springboot", "quarkus")
}

func (gradleAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	// String-contains assertions keep the suite free of a JSON dependency
	// the target build may not declare.
	path := "src/test/java/checkline/VerificationSpecTest.java"
	var b strings.Builder
	fmt.Fprintf(&b, "// Verification scaffold for task %s.\n", vs.TaskID)
	b.WriteString("package checkline;\n\n")
	b.WriteString("import java.nio.file.Files;\n")
	b.WriteString("import java.nio.file.Paths;\n")
	b.WriteString("import org.junit.jupiter.api.Test;\n")
	b.WriteString("import static org.junit.jupiter.api.Assertions.assertTrue;\n\n")
	b.WriteString("class VerificationSpecTest {\n\n")
	fmt.Fprintf(&b, "    private static final String SPEC_PATH = \"%s\";\n\n", spec.PathFor(vs.TaskID))
	b.WriteString("    private String spec() throws Exception {\n")
	b.WriteString("        return Files.readString(Paths.get(SPEC_PATH));\n")
	b.WriteString("    }\n\n")
	b.WriteString("    @Test\n")
	b.WriteString("    void specTargetsThisTask() throws Exception {\n")
	fmt.Fprintf(&b, "        assertTrue(spec().replace(\" \", \"\").contains(\"\\\"taskId\\\":\\\"%s\\\"\"));\n", vs.TaskID)
	b.WriteString("    }\n")
	for i, e := range vs.Expectations {
		b.WriteString("\n")
		b.WriteString("    @Test\n")
		fmt.Fprintf(&b, "    void expectation%d() throws Exception {\n", i+1)
		fmt.Fprintf(&b, "        assertTrue(spec().contains(\"\\\"%s\\\"\"));\n", e.Key)
		fmt.Fprintf(&b, "        // TODO: assert the behavior behind %q.\n", e.Title)
		b.WriteString("    }\n")
	}
	b.WriteString("}\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "",
		TestCommand:    "./gradlew --no-daemon test --tests checkline.VerificationSpecTest",
	}
}

// --- phpunit: PHP projects ---

type phpunitAdapter struct{}

func (phpunitAdapter) Name() string { return "phpunit" }

func (phpunitAdapter) Match(s domain.Stack) bool {
	return hasAny(s.Language, "php") ||
		hasAny(s.TestRunner, "phpunit") ||
		hasAny(s.Framework, "laravel", "symfony")
}

func (phpunitAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	path := fmt.Sprintf("%s/VerificationSpecTest.php", scaffoldDir)
	var b strings.Builder
	b.WriteString("<?php\n")
	fmt.Fprintf(&b, "// Verification scaffold for task %s.\n", vs.TaskID)
	b.WriteString("use PHPUnit\\Framework\\TestCase;\n\n")
	b.WriteString("final class VerificationSpecTest extends TestCase\n{\n")
	fmt.Fprintf(&b, "    private const SPEC_PATH = '%s';\n\n", spec.PathFor(vs.TaskID))
	b.WriteString("    private function load(): array\n    {\n")
	b.WriteString("        return json_decode(file_get_contents(self::SPEC_PATH), true);\n")
	b.WriteString("    }\n\n")
	b.WriteString("    public function testSpecTargetsThisTask(): void\n    {\n")
	fmt.Fprintf(&b, "        $this->assertSame('%s', $this->load()['taskId']);\n", vs.TaskID)
	b.WriteString("    }\n")
	for i, e := range vs.Expectations {
		b.WriteString("\n")
		fmt.Fprintf(&b, "    public function testExpectation%d(): void\n    {\n", i+1)
		b.WriteString("        $keys = array_column($this->load()['expectations'], 'key');\n")
		fmt.Fprintf(&b, "        $this->assertContains('%s', $keys);\n", e.Key)
		fmt.Fprintf(&b, "        // TODO: assert the behavior behind %s.\n", phpComment(e.Title))
		b.WriteString("    }\n")
	}
	b.WriteString("}\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "composer install --no-interaction",
		TestCommand:    fmt.Sprintf("vendor/bin/phpunit %s", path),
	}
}

// --- fallback: unsupported stacks get a failing TODO suite ---

type fallbackAdapter struct{}

func (fallbackAdapter) Name() string { return "fallback" }

func (fallbackAdapter) Match(domain.Stack) bool { return true }

func (fallbackAdapter) Generate(vs spec.VerificationSpec) Scaffold {
	// The script fails on purpose: an unsupported stack must never report
	// green just because no scaffold knew how to test it.
	path := fmt.Sprintf("%s/%s.todo.sh", scaffoldDir, vs.TaskID)
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "# Verification scaffold for task %s: no adapter supports this stack.\n", vs.TaskID)
	b.WriteString("echo 'unsupported stack: author tests covering the following expectations'\n")
	for _, e := range vs.Expectations {
		fmt.Fprintf(&b, "echo %s\n", shString("TODO "+e.Key+": "+e.Title))
	}
	b.WriteString("exit 1\n")
	return Scaffold{
		Files:          map[string]string{path: b.String()},
		InstallCommand: "",
		TestCommand:    fmt.Sprintf("sh %s", path),
	}
}

// jsString renders s as a single-quoted JS string literal.
func jsString(s string) string {
	r := strings.NewReplacer("\\", "\\\\", "'", "\\'", "\n", " ")
	return "'" + r.Replace(s) + "'"
}

// shString renders s as a single-quoted shell word.
func shString(s string) string {
	return "'" + strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "'", `'\''`) + "'"
}

func phpComment(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// pyIdent lowercases s and maps everything outside [a-z0-9] to underscores
// so it is usable inside a python identifier.
func pyIdent(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
