package spec

import (
	"fmt"
	"strings"
	"unicode"

	"checkline/internal/domain"
)

const maxSentenceCandidates = 6

// Extract derives expectations from a task. Bullet-marked acceptance
// criteria win; otherwise sentences from the description, capped at
// maxSentenceCandidates. When nothing usable is found a single fallback
// expectation is synthesized from the title. Extract never fails and is
// deterministic for identical task text.
func Extract(task domain.Task) []Expectation {
	candidates := bulletLines(task.AcceptanceCriteria)
	if len(candidates) == 0 {
		candidates = sentences(task.Description, maxSentenceCandidates)
	}
	if len(candidates) == 0 {
		title := strings.TrimSpace(task.Title)
		if title == "" {
			title = "task is implemented"
		}
		return []Expectation{makeExpectation(task.ID, title, 1, TypeUnknown)}
	}
	exps := make([]Expectation, 0, len(candidates))
	for i, line := range candidates {
		// the 1-based index keeps keys unique even when two lines slugify
		// identically
		exps = append(exps, makeExpectation(task.ID, line, i+1, classify(line)))
	}
	return exps
}

func makeExpectation(taskID, text string, index int, typ string) Expectation {
	key := fmt.Sprintf("%s-%d", Slugify(text), index)
	specPath := PathFor(taskID)
	rules := []Rule{
		{Kind: RuleChanged, Path: targetGlob(typ, text)},
		{Kind: RuleExists, Path: specPath},
		{Kind: RuleContains, Path: specPath, Value: key},
	}
	return Expectation{
		Key:   key,
		Title: text,
		Type:  typ,
		Rules: rules,
	}
}

func bulletLines(criteria string) []string {
	var out []string
	for _, raw := range strings.Split(criteria, "\n") {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
			text := strings.TrimSpace(line[2:])
			if text != "" {
				out = append(out, text)
			}
		}
	}
	return out
}

func sentences(text string, limit int) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		s := strings.TrimSpace(cur.String())
		cur.Reset()
		if s != "" {
			out = append(out, s)
		}
	}
	for _, r := range text {
		switch r {
		case '.', '!', '?', '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// typeKeywords maps inferred expectation types to trigger words. Order
// matters: the first type whose keyword appears wins.
var typeKeywords = []struct {
	typ   string
	words []string
}{
	{TypeHTTP, []string{"api", "endpoint", "http", "route", "rest", "request"}},
	{TypeContract, []string{"contract", "solidity", "on-chain", "onchain"}},
	{TypeDB, []string{"db", "database", "persist", "migration", "schema", "store"}},
	{TypeSecurity, []string{"auth", "permission", "security", "login", "token", "secret"}},
	{TypeCLI, []string{"cli", "command", "flag", "terminal"}},
	{TypeUI, []string{"ui", "component", "page", "screen", "render", "button", "form"}},
}

func classify(text string) string {
	lowered := strings.ToLower(text)
	for _, tk := range typeKeywords {
		for _, w := range tk.words {
			if containsWord(lowered, w) {
				return tk.typ
			}
		}
	}
	return TypeFile
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordRune(rune(text[start-1]))
		afterOK := end == len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// targetGlob maps an expectation type to the source paths most likely to
// change when the expectation is implemented.
func targetGlob(typ, text string) string {
	lowered := strings.ToLower(text)
	switch {
	case containsWord(lowered, "test") || containsWord(lowered, "tests"):
		return "**/*{test,spec}*"
	case containsWord(lowered, "ci") || containsWord(lowered, "workflow") || containsWord(lowered, "pipeline"):
		return ".github/workflows/**"
	case containsWord(lowered, "config") || containsWord(lowered, "configuration"):
		return "**/*.{json,yml,yaml,toml,env}"
	}
	switch typ {
	case TypeHTTP:
		return "**/{routes,controllers,api,handlers}/**"
	case TypeDB:
		return "**/{models,migrations,db,repositories}/**"
	case TypeSecurity:
		return "**/{auth,middleware,security}/**"
	case TypeCLI:
		return "**/{cmd,cli,bin}/**"
	case TypeUI:
		return "**/{components,pages,views,src}/**"
	case TypeContract:
		return "contracts/**"
	default:
		return "**/*"
	}
}

// Slugify turns free text into a stable lowercase dashed key fragment.
func Slugify(text string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(text)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 48 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "expectation"
	}
	return slug
}
