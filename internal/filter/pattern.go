package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Match reports whether path matches the pattern using find -path semantics:
// * and ? cross directory separators, [...] is a character class, \ escapes.
func Match(pattern, path string) (bool, error) {
	re, err := compile(normalize(pattern))
	if err != nil {
		return false, err
	}

	return re.MatchString(path), nil
}

// WithSuffix rewrites patterns written against plaintext names so they select
// the artifacts derived from them, e.g. "*.txt" becomes "*.txt.encrypted".
// No patterns select every artifact carrying suffix.
func WithSuffix(patterns []string, suffix string) []string {
	if len(patterns) == 0 {
		return []string{"*" + escape(suffix)}
	}

	out := make([]string, 0, len(patterns))

	for _, p := range patterns {
		// A pattern already naming the artifact is kept as is.
		if strings.HasSuffix(p, suffix) {
			out = append(out, p)

			continue
		}

		out = append(out, p+escape(suffix))
	}

	return out
}

// escape quotes the glob metacharacters in a literal.
func escape(literal string) string {
	var buf strings.Builder

	for _, r := range literal {
		if strings.ContainsRune(`*?[\`, r) {
			buf.WriteByte('\\')
		}

		buf.WriteRune(r)
	}

	return buf.String()
}

// rule is one compiled pattern with the text it was written as.
type rule struct {
	pattern string
	re      *regexp.Regexp
}

// Matcher pre-compiles patterns for reuse across many paths.
type Matcher struct {
	rules []rule
}

// NewMatcher compiles the given patterns into a reusable matcher.
// A leading "./" is dropped since candidate paths are always relative.
func NewMatcher(patterns []string) (*Matcher, error) {
	m := &Matcher{rules: make([]rule, 0, len(patterns))}

	for _, p := range patterns {
		re, err := compile(normalize(p))
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}

		m.rules = append(m.rules, rule{pattern: p, re: re})
	}

	return m, nil
}

// MatchAny reports whether path matches any of the compiled patterns.
func (m *Matcher) MatchAny(path string) bool {
	for _, r := range m.rules {
		if r.re.MatchString(path) {
			return true
		}
	}

	return false
}

// Count returns how many of paths each pattern matches, keyed by pattern.
func (m *Matcher) Count(paths []string) map[string]int {
	counts := make(map[string]int, len(m.rules))

	for _, r := range m.rules {
		n := 0

		for _, p := range paths {
			if r.re.MatchString(p) {
				n++
			}
		}

		counts[r.pattern] = n
	}

	return counts
}

// Patterns returns the patterns as they were given.
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.rules))
	for i, r := range m.rules {
		out[i] = r.pattern
	}

	return out
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int { return len(m.rules) }

func normalize(pattern string) string {
	return strings.TrimPrefix(pattern, "./")
}

var errUnclosedClass = errors.New("unclosed character class")

var cache sync.Map //nolint:gochecknoglobals // compiled patterns are immutable

func compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := cache.Load(pattern); ok {
		cached, _ := v.(*regexp.Regexp) //nolint:errcheck // only *regexp.Regexp is stored

		return cached, nil
	}

	expr, err := translate(pattern)
	if err != nil {
		return nil, err
	}

	compiled, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}

	cache.Store(pattern, compiled)

	return compiled, nil
}

// translate turns a glob into an anchored regular expression.
func translate(pattern string) (string, error) {
	var buf strings.Builder

	buf.WriteString("^")

	rest := pattern

	for rest != "" {
		switch c := rest[0]; c {
		case '*':
			// Runs of stars collapse, they all mean the same thing here.
			rest = strings.TrimLeft(rest, "*")

			buf.WriteString(".*")

			continue
		case '?':
			buf.WriteString(".")
		case '\\':
			if len(rest) == 1 {
				return "", fmt.Errorf("trailing backslash in pattern %q", pattern)
			}

			buf.WriteString(regexp.QuoteMeta(rest[1:2]))

			rest = rest[2:]

			continue
		case '[':
			class, n, err := bracket(rest)
			if err != nil {
				return "", fmt.Errorf("%w in pattern %q", err, pattern)
			}

			buf.WriteString(class)

			rest = rest[n:]

			continue
		default:
			buf.WriteString(regexp.QuoteMeta(rest[:1]))
		}

		rest = rest[1:]
	}

	buf.WriteString("$")

	return buf.String(), nil
}

// bracket reads the character class at the start of s and returns it in
// regexp syntax together with the number of bytes consumed.
func bracket(s string) (string, int, error) {
	body := 1

	negated := body < len(s) && s[body] == '!'
	if negated {
		body++
	}

	// A ] right after the opening bracket is a literal member.
	start := body
	if start < len(s) && s[start] == ']' {
		start++
	}

	end := strings.IndexByte(s[start:], ']')
	if end < 0 {
		return "", 0, errUnclosedClass
	}

	end += start

	class := "[" + s[body:end] + "]"
	if negated {
		class = "[^" + s[body:end] + "]"
	}

	return class, end + 1, nil
}
