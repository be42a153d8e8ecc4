package patterns

import (
	"fmt"
	"regexp"
	"strings"
)

// Regex safety limits
const (
	maxRegexLength = 1000
	maxPatterns    = 100
)

// Nested quantifiers like (a+)+ can backtrack catastrophically in engines
// that support backreferences; Go's RE2 does not, but such patterns are
// almost always configuration mistakes, so they are rejected up front.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(\.\*\)\+`),    // (.*)+
	regexp.MustCompile(`\(\.\+\)\+`),    // (.+)+
	regexp.MustCompile(`\(\.\*\)\*`),    // (.*)*
	regexp.MustCompile(`\(\.\+\)\*`),    // (.+)*
	regexp.MustCompile(`\([^)]*\+\)\+`), // (x+)+
	regexp.MustCompile(`\([^)]*\*\)\+`), // (x*)+
}

// CompiledPattern is a single entry of a pattern table
type CompiledPattern struct {
	Expr     string // expression as configured
	CauseTag string // family the pattern belongs to; event causes come from classify.DetermineCause
	re       *regexp.Regexp
}

// MatchString reports whether the pattern occurs anywhere in line
func (p CompiledPattern) MatchString(line string) bool {
	return p.re != nil && p.re.MatchString(line)
}

// Table is an ordered list of patterns; the first match wins
type Table struct {
	patterns []CompiledPattern
}

// Spec describes a pattern before compilation
type Spec struct {
	Expr     string
	CauseTag string
}

// Compile validates and compiles expressions in order.
// Matching is case-insensitive and unanchored.
func Compile(exprs []string) (*Table, error) {
	specs := make([]Spec, 0, len(exprs))
	for _, e := range exprs {
		specs = append(specs, Spec{Expr: e})
	}
	return CompileSpecs(specs)
}

// CompileSpecs is Compile for patterns that carry a cause tag
func CompileSpecs(specs []Spec) (*Table, error) {
	if len(specs) > maxPatterns {
		return nil, fmt.Errorf("too many patterns: %d (max %d)", len(specs), maxPatterns)
	}

	t := &Table{patterns: make([]CompiledPattern, 0, len(specs))}
	for i, s := range specs {
		if strings.TrimSpace(s.Expr) == "" {
			return nil, fmt.Errorf("pattern %d is empty", i)
		}
		if err := ValidateSafety(s.Expr); err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, s.Expr, err)
		}
		re, err := regexp.Compile("(?i)" + s.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %d (%q): %w", i, s.Expr, err)
		}
		t.patterns = append(t.patterns, CompiledPattern{
			Expr:     s.Expr,
			CauseTag: s.CauseTag,
			re:       re,
		})
	}

	return t, nil
}

// MustCompileSpecs is CompileSpecs that panics on error; used for built-in tables
func MustCompileSpecs(specs []Spec) *Table {
	t, err := CompileSpecs(specs)
	if err != nil {
		panic(err)
	}
	return t
}

// ValidateSafety rejects overly long expressions and nested quantifiers
func ValidateSafety(expr string) error {
	if len(expr) > maxRegexLength {
		return fmt.Errorf("regex pattern exceeds maximum length of %d characters", maxRegexLength)
	}
	for _, d := range dangerousPatterns {
		if d.MatchString(expr) {
			return fmt.Errorf("regex pattern contains nested quantifiers")
		}
	}
	return nil
}

// Match returns the first pattern in table order that occurs in line
func (t *Table) Match(line string) (CompiledPattern, bool) {
	if t == nil {
		return CompiledPattern{}, false
	}
	for _, p := range t.patterns {
		if p.MatchString(line) {
			return p, true
		}
	}
	return CompiledPattern{}, false
}

// Len returns the number of patterns
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.patterns)
}

// Exprs returns the configured expressions in order
func (t *Table) Exprs() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.patterns))
	for i, p := range t.patterns {
		out[i] = p.Expr
	}
	return out
}
