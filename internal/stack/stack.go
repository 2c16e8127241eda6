// Package stack generates per-stack test scaffolding from a verification
// spec. Adapters are matched in registration order; the fallback adapter is
// registered last and matches everything, so lookup never fails.
package stack

import (
	"strings"

	"checkline/internal/domain"
	"checkline/internal/spec"
)

// Scaffold is what an adapter produces: files to commit onto the task branch
// plus the commands the CI workflow runs.
type Scaffold struct {
	Files          map[string]string
	InstallCommand string
	TestCommand    string
}

// Adapter generates scaffolding for one family of test tooling.
type Adapter interface {
	Name() string
	Match(stack domain.Stack) bool
	Generate(vs spec.VerificationSpec) Scaffold
}

// Registry holds adapters in registration order. First match wins.
type Registry struct {
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// Select returns the first adapter matching the stack. With the fallback
// registered this never returns nil.
func (r *Registry) Select(stack domain.Stack) Adapter {
	for _, a := range r.adapters {
		if a.Match(stack) {
			return a
		}
	}
	return nil
}

// Default returns the registry with every built-in adapter in the order the
// matching rules assume: specific runners first, language families next, the
// catch-all last.
func Default() *Registry {
	return NewRegistry(
		hardhatAdapter{},
		vitestAdapter{},
		jestAdapter{},
		pytestAdapter{},
		gradleAdapter{},
		phpunitAdapter{},
		fallbackAdapter{},
	)
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func hasAny(v string, words ...string) bool {
	v = norm(v)
	for _, w := range words {
		if v == w {
			return true
		}
	}
	return false
}
