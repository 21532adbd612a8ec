package search

import (
	"cmp"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/j-angnoe/flux-framework-bundle/internal/shared/utils"
)

var (
	// ErrUnknownOperator is returned for field operators outside the
	// supported set.
	ErrUnknownOperator = errors.New("unknown search operator")

	fieldPattern = regexp.MustCompile(`^(\w+)([:!<>=]+)(.+)$`)
)

// Operator is a structured comparison operator.
type Operator string

const (
	OpColon Operator = ":"
	OpEq    Operator = "="
	OpEqEq  Operator = "=="
	OpNe    Operator = "!="
	OpLt    Operator = "<"
	OpLe    Operator = "<="
	OpGt    Operator = ">"
	OpGe    Operator = ">="
)

// Condition is a structured field comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    string
}

// Match evaluates the condition against an item.
func (c Condition) Match(item any) bool {
	v, ok := utils.Field(item, c.Field)
	switch c.Operator {
	case OpColon, OpEq, OpEqEq:
		return fieldString(v, ok) == c.Value
	case OpNe:
		return fieldString(v, ok) != c.Value
	}
	if !ok || v == nil {
		return false
	}
	cmp := compareLoose(v, c.Value)
	switch c.Operator {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func (c Condition) String() string {
	return c.Field + string(c.Operator) + c.Value
}

// compareLoose compares numerically when both sides are numeric and by
// string form otherwise, so "b" > "a" and 10 > "9" both hold.
func compareLoose(a, b any) int {
	fa, aok := utils.ToFloat(a)
	fb, bok := utils.ToFloat(b)
	if aok && bok {
		return cmp.Compare(fa, fb)
	}
	return strings.Compare(utils.Stringify(a), utils.Stringify(b))
}

func fieldString(v any, ok bool) string {
	if !ok {
		return ""
	}
	return utils.Stringify(v)
}

// Query is a compiled quicksearch expression.
type Query struct {
	expr       string
	includes   []*regexp.Regexp
	exclude    *regexp.Regexp
	conditions []Condition
	negated    []Condition
	terms      Terms
}

// Terms lists the parts of a compiled query.
type Terms struct {
	Includes   []string
	Excludes   []string
	Conditions []Condition
	Negated    []Condition
}

// Compile parses a quicksearch expression. Tokens are separated by
// whitespace and double quotes group words into one token. A token
// prefixed with "-" or suffixed with "!" is excluded. A token shaped like
// field<op>value is a field comparison; every other token must appear in
// the item's values, ignoring case, with "*" as a wildcard.
func Compile(expr string) (*Query, error) {
	q := &Query{expr: expr}
	includes, excludes := Tokenize(expr)

	var freeIncludes, freeExcludes []string
	for _, t := range includes {
		c, ok, err := parseCondition(t)
		if err != nil {
			return nil, err
		}
		if ok {
			q.conditions = append(q.conditions, c)
			continue
		}
		freeIncludes = append(freeIncludes, t)
	}
	for _, t := range excludes {
		c, ok, err := parseCondition(t)
		if err != nil {
			return nil, err
		}
		if ok {
			q.negated = append(q.negated, c)
			continue
		}
		freeExcludes = append(freeExcludes, t)
	}

	for _, t := range freeIncludes {
		re, err := regexp.Compile("(?i)" + wildcard(t))
		if err != nil {
			return nil, fmt.Errorf("failed to compile search term %q: %w", t, err)
		}
		q.includes = append(q.includes, re)
	}
	if len(freeExcludes) > 0 {
		parts := make([]string, len(freeExcludes))
		for i, t := range freeExcludes {
			parts[i] = wildcard(t)
		}
		re, err := regexp.Compile("(?i)(" + strings.Join(parts, "|") + ")")
		if err != nil {
			return nil, fmt.Errorf("failed to compile exclude terms: %w", err)
		}
		q.exclude = re
	}

	q.terms = Terms{
		Includes:   freeIncludes,
		Excludes:   freeExcludes,
		Conditions: q.conditions,
		Negated:    q.negated,
	}
	return q, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(expr string) *Query {
	q, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return q
}

func parseCondition(token string) (Condition, bool, error) {
	m := fieldPattern.FindStringSubmatch(token)
	if m == nil {
		return Condition{}, false, nil
	}
	op := Operator(m[2])
	switch op {
	case OpColon, OpEq, OpEqEq, OpNe, OpLt, OpLe, OpGt, OpGe:
	default:
		return Condition{}, false, fmt.Errorf("%w: %q in %q", ErrUnknownOperator, m[2], token)
	}
	return Condition{Field: m[1], Operator: op, Value: m[3]}, true, nil
}

func wildcard(term string) string {
	return strings.ReplaceAll(regexp.QuoteMeta(term), `\*`, ".*")
}

// String returns the source expression.
func (q *Query) String() string {
	return q.expr
}

// Terms returns the parsed parts of the query.
func (q *Query) Terms() Terms {
	return q.terms
}

// Empty reports whether the query matches everything.
func (q *Query) Empty() bool {
	return len(q.includes) == 0 && q.exclude == nil && len(q.conditions) == 0 && len(q.negated) == 0
}

// Match reports whether item satisfies the query.
func (q *Query) Match(item any) bool {
	if q.Empty() {
		return true
	}
	var line string
	if len(q.includes) > 0 || q.exclude != nil {
		line = Serialize(item)
	}
	for _, re := range q.includes {
		if !re.MatchString(line) {
			return false
		}
	}
	for _, c := range q.conditions {
		if !c.Match(item) {
			return false
		}
	}
	if q.exclude != nil && q.exclude.MatchString(line) {
		return false
	}
	for _, c := range q.negated {
		if c.Match(item) {
			return false
		}
	}
	return true
}

// Serialize renders the values of an item as the text free-text terms are
// matched against.
func Serialize(item any) string {
	return utils.Serialize(item)
}
