// Package runner evaluates verification specs against a local repository
// checkout. It is the library behind the checkrunner binary that CI executes
// on the task branch.
package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"checkline/internal/spec"
)

// Base ref candidates, tried in order; the first that resolves wins.
var baseCandidates = []string{"origin/main", "origin/master", "main", "master"}

// maxFileSize bounds content reads for contains/regex rules.
const maxFileSize = 4 << 20

type RuleResult struct {
	Rule   spec.Rule
	Pass   bool
	Detail string
}

type ExpectationResult struct {
	Key   string
	Title string
	Pass  bool
	Rules []RuleResult
}

type SpecResult struct {
	TaskID       string
	Path         string
	Pass         bool
	Expectations []ExpectationResult
}

type Report struct {
	Base    string
	Specs   []SpecResult
	AllPass bool
}

// Evaluator holds the repository state a run evaluates against: the tracked
// file list at HEAD and the set of paths changed since the base ref.
type Evaluator struct {
	repo    *git.Repository
	head    *object.Commit
	files   []string
	changed map[string]bool
	base    string
}

// Open prepares an evaluator for the repository containing dir.
func Open(dir string) (*Evaluator, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	headRef, err := r.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	head, err := r.CommitObject(headRef.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}
	ev := &Evaluator{repo: r, head: head}
	if err := ev.loadFiles(); err != nil {
		return nil, err
	}
	if err := ev.loadChanged(); err != nil {
		return nil, err
	}
	return ev, nil
}

func (ev *Evaluator) loadFiles() error {
	tree, err := ev.head.Tree()
	if err != nil {
		return fmt.Errorf("load HEAD tree: %w", err)
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		ev.files = append(ev.files, f.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk HEAD tree: %w", err)
	}
	sort.Strings(ev.files)
	return nil
}

// loadChanged diffs HEAD against the first base candidate that resolves.
// Without any base every tracked file counts as changed: a fresh repository
// has nothing to diff against, and failing every changed rule there would
// punish the first task.
func (ev *Evaluator) loadChanged() error {
	ev.changed = map[string]bool{}
	var baseCommit *object.Commit
	for _, name := range baseCandidates {
		hash, err := ev.repo.ResolveRevision(plumbing.Revision(name))
		if err != nil {
			continue
		}
		c, err := ev.repo.CommitObject(*hash)
		if err != nil {
			continue
		}
		ev.base = name
		baseCommit = c
		break
	}
	if baseCommit == nil {
		for _, f := range ev.files {
			ev.changed[f] = true
		}
		return nil
	}
	baseTree, err := baseCommit.Tree()
	if err != nil {
		return fmt.Errorf("load %s tree: %w", ev.base, err)
	}
	headTree, err := ev.head.Tree()
	if err != nil {
		return fmt.Errorf("load HEAD tree: %w", err)
	}
	changes, err := object.DiffTree(baseTree, headTree)
	if err != nil {
		return fmt.Errorf("diff %s..HEAD: %w", ev.base, err)
	}
	for _, ch := range changes {
		if ch.From.Name != "" {
			ev.changed[ch.From.Name] = true
		}
		if ch.To.Name != "" {
			ev.changed[ch.To.Name] = true
		}
	}
	return nil
}

// Base reports the resolved base ref, empty when none resolved.
func (ev *Evaluator) Base() string { return ev.base }

// DiscoverSpecs lists spec documents tracked at HEAD, optionally filtered to
// one task id.
func (ev *Evaluator) DiscoverSpecs(taskID string) []string {
	var out []string
	for _, f := range ev.files {
		if !strings.HasPrefix(f, spec.SpecDir+"/") || !strings.HasSuffix(f, ".json") {
			continue
		}
		if taskID != "" && f != spec.PathFor(taskID) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// LoadSpec parses one spec document from the HEAD tree.
func (ev *Evaluator) LoadSpec(path string) (spec.VerificationSpec, error) {
	content, err := ev.readFile(path)
	if err != nil {
		return spec.VerificationSpec{}, err
	}
	var vs spec.VerificationSpec
	if err := json.Unmarshal([]byte(content), &vs); err != nil {
		return spec.VerificationSpec{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return vs, nil
}

func (ev *Evaluator) readFile(path string) (string, error) {
	f, err := ev.head.File(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if f.Size > maxFileSize {
		return "", fmt.Errorf("read %s: file exceeds %d bytes", path, maxFileSize)
	}
	return f.Contents()
}

// Run evaluates every discovered spec. AllPass is true only when every rule
// of every expectation of every spec passes.
func (ev *Evaluator) Run(taskID string) (Report, error) {
	paths := ev.DiscoverSpecs(taskID)
	rep := Report{Base: ev.base, AllPass: true}
	if len(paths) == 0 {
		rep.AllPass = false
		return rep, fmt.Errorf("no spec documents found under %s", spec.SpecDir)
	}
	for _, path := range paths {
		vs, err := ev.LoadSpec(path)
		if err != nil {
			return Report{}, err
		}
		sr := ev.EvaluateSpec(path, vs)
		if !sr.Pass {
			rep.AllPass = false
		}
		rep.Specs = append(rep.Specs, sr)
	}
	return rep, nil
}

// EvaluateSpec runs every expectation of one spec. An expectation passes
// only if all of its rules pass.
func (ev *Evaluator) EvaluateSpec(path string, vs spec.VerificationSpec) SpecResult {
	sr := SpecResult{TaskID: vs.TaskID, Path: path, Pass: true}
	for _, exp := range vs.Expectations {
		er := ExpectationResult{Key: exp.Key, Title: exp.Title, Pass: true}
		for _, rule := range exp.Rules {
			pass, detail := ev.evalRule(rule)
			if !pass {
				er.Pass = false
			}
			er.Rules = append(er.Rules, RuleResult{Rule: rule, Pass: pass, Detail: detail})
		}
		if !er.Pass {
			sr.Pass = false
		}
		sr.Expectations = append(sr.Expectations, er)
	}
	return sr
}

func (ev *Evaluator) evalRule(r spec.Rule) (bool, string) {
	matched := ev.glob(r.Path)
	switch r.Kind {
	case spec.RuleExists:
		if len(matched) > 0 {
			return true, fmt.Sprintf("%d file(s) match", len(matched))
		}
		return false, "no tracked file matches"
	case spec.RuleChanged:
		for _, f := range matched {
			if ev.changed[f] {
				return true, f + " changed since " + ev.baseLabel()
			}
		}
		return false, "no matching file changed since " + ev.baseLabel()
	case spec.RuleContains:
		for _, f := range matched {
			content, err := ev.readFile(f)
			if err != nil {
				continue
			}
			if strings.Contains(content, r.Value) {
				return true, "found in " + f
			}
		}
		return false, fmt.Sprintf("substring %q not found", r.Value)
	case spec.RuleRegex:
		re, err := regexp.Compile(r.Value)
		if err != nil {
			return false, fmt.Sprintf("invalid pattern: %v", err)
		}
		for _, f := range matched {
			content, err := ev.readFile(f)
			if err != nil {
				continue
			}
			if re.MatchString(content) {
				return true, "matched in " + f
			}
		}
		return false, fmt.Sprintf("pattern %q not matched", r.Value)
	default:
		return false, fmt.Sprintf("unknown rule kind %q", r.Kind)
	}
}

func (ev *Evaluator) baseLabel() string {
	if ev.base == "" {
		return "repository start"
	}
	return ev.base
}

func (ev *Evaluator) glob(pattern string) []string {
	var out []string
	for _, f := range ev.files {
		ok, err := doublestar.Match(pattern, f)
		if err != nil {
			return nil
		}
		if ok {
			out = append(out, f)
		}
	}
	return out
}
