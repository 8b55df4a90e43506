// Package query evaluates filter trees over tasks and sorts and groups the
// results.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/twiced-technology-gmbh/taskvault/internal/clierr"
)

// Conjunctions.
const (
	And = "and"
	Or  = "or"
)

// Operators.
const (
	OpIs                = "is"
	OpIsNot             = "is-not"
	OpContains          = "contains"
	OpDoesNotContain    = "does-not-contain"
	OpIsBefore          = "is-before"
	OpIsAfter           = "is-after"
	OpIsOnOrBefore      = "is-on-or-before"
	OpIsOnOrAfter       = "is-on-or-after"
	OpIsGreaterThan     = "is-greater-than"
	OpIsLessThan        = "is-less-than"
	OpIsGreaterThanOrEq = "is-greater-than-or-equal"
	OpIsLessThanOrEq    = "is-less-than-or-equal"
	OpIsEmpty           = "is-empty"
	OpIsNotEmpty        = "is-not-empty"
	OpIsChecked         = "is-checked"
	OpIsNotChecked      = "is-not-checked"
)

var aliases = map[string]string{
	"=":  OpIs,
	"==": OpIs,
	"!=": OpIsNot,
	"~":  OpContains,
	"!~": OpDoesNotContain,
	"<":  OpIsBefore,
	">":  OpIsAfter,
	"<=": OpIsOnOrBefore,
	">=": OpIsOnOrAfter,
}

var unary = map[string]bool{
	OpIsEmpty:      true,
	OpIsNotEmpty:   true,
	OpIsChecked:    true,
	OpIsNotChecked: true,
}

var binary = map[string]bool{
	OpIs:                true,
	OpIsNot:             true,
	OpContains:          true,
	OpDoesNotContain:    true,
	OpIsBefore:          true,
	OpIsAfter:           true,
	OpIsOnOrBefore:      true,
	OpIsOnOrAfter:       true,
	OpIsGreaterThan:     true,
	OpIsLessThan:        true,
	OpIsGreaterThanOrEq: true,
	OpIsLessThanOrEq:    true,
}

// Operators returns every canonical operator name.
func Operators() []string {
	return []string{
		OpIs, OpIsNot, OpContains, OpDoesNotContain,
		OpIsBefore, OpIsAfter, OpIsOnOrBefore, OpIsOnOrAfter,
		OpIsGreaterThan, OpIsLessThan, OpIsGreaterThanOrEq, OpIsLessThanOrEq,
		OpIsEmpty, OpIsNotEmpty, OpIsChecked, OpIsNotChecked,
	}
}

// CanonicalOperator maps a symbolic alias to its operator name.
func CanonicalOperator(op string) string {
	op = strings.ToLower(strings.TrimSpace(op))
	if c, ok := aliases[op]; ok {
		return c
	}
	return op
}

// Condition is a leaf of a filter tree.
type Condition struct {
	Property string `yaml:"property" json:"property"`
	Operator string `yaml:"operator" json:"operator"`
	Value    any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Group folds its children with a conjunction.
type Group struct {
	Conjunction string `yaml:"conjunction" json:"conjunction"`
	Children    []Node `yaml:"children" json:"children"`
}

// Node is one element of a filter tree: exactly one of Condition or Group.
type Node struct {
	Condition *Condition
	Group     *Group
}

// Cond wraps a condition as a Node.
func Cond(property, operator string, value any) Node {
	return Node{Condition: &Condition{Property: property, Operator: operator, Value: value}}
}

// AllOf returns an "and" group of nodes.
func AllOf(children ...Node) *Group {
	return &Group{Conjunction: And, Children: children}
}

// AnyOf returns an "or" group of nodes.
func AnyOf(children ...Node) *Group {
	return &Group{Conjunction: Or, Children: children}
}

// Sub wraps a group as a Node.
func Sub(g *Group) Node {
	return Node{Group: g}
}

type rawNode struct {
	Property    string `yaml:"property" json:"property"`
	Operator    string `yaml:"operator" json:"operator"`
	Value       any    `yaml:"value" json:"value"`
	Conjunction string `yaml:"conjunction" json:"conjunction"`
	Children    []Node `yaml:"children" json:"children"`
}

func (r rawNode) node() Node {
	if r.Conjunction != "" || r.Children != nil {
		return Node{Group: &Group{Conjunction: r.Conjunction, Children: r.Children}}
	}
	return Node{Condition: &Condition{Property: r.Property, Operator: r.Operator, Value: r.Value}}
}

// UnmarshalYAML decodes a group when the mapping has a conjunction or
// children, and a condition otherwise.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var r rawNode
	if err := value.Decode(&r); err != nil {
		return err
	}
	*n = r.node()
	return nil
}

// MarshalYAML encodes the populated variant.
func (n Node) MarshalYAML() (interface{}, error) {
	if n.Group != nil {
		return n.Group, nil
	}
	return n.Condition, nil
}

// UnmarshalJSON mirrors UnmarshalYAML.
func (n *Node) UnmarshalJSON(data []byte) error {
	var r rawNode
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*n = r.node()
	return nil
}

// MarshalJSON encodes the populated variant.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	return json.Marshal(n.Condition)
}

// DecodeFilter reads a filter tree from YAML or JSON. A bare condition at
// the top level is wrapped in an "and" group.
func DecodeFilter(data []byte) (*Group, error) {
	var n Node
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, clierr.Newf(clierr.FilterUnavailable, "decoding filter: %v", err)
	}
	g := n.Group
	if g == nil {
		g = AllOf(n)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the tree's shape. A malformed tree is a caller error and
// is reported with code FILTER_UNAVAILABLE.
func (g *Group) Validate() error {
	return validateGroup(g, "filter")
}

func validateGroup(g *Group, at string) error {
	if g == nil {
		return nil
	}
	switch strings.ToLower(g.Conjunction) {
	case And, Or:
	default:
		return unavailable(at, "unknown conjunction %q", g.Conjunction)
	}
	for i, child := range g.Children {
		where := fmt.Sprintf("%s.children[%d]", at, i)
		switch {
		case child.Group != nil && child.Condition != nil:
			return unavailable(where, "node is both a group and a condition")
		case child.Group != nil:
			if err := validateGroup(child.Group, where); err != nil {
				return err
			}
		case child.Condition != nil:
			if err := child.Condition.Validate(); err != nil {
				if ce, ok := err.(*clierr.Error); ok && ce.Details != nil {
					ce.Details["at"] = where
				}
				return err
			}
		default:
			return unavailable(where, "empty node")
		}
	}
	return nil
}

// Validate checks a single condition.
func (c *Condition) Validate() error {
	if strings.TrimSpace(c.Property) == "" {
		return unavailable("condition", "empty property")
	}
	op := CanonicalOperator(c.Operator)
	switch {
	case unary[op]:
	case binary[op]:
		if c.Value == nil {
			return unavailable("condition", "operator %q on %q needs a value", op, c.Property)
		}
	default:
		return unavailable("condition", "unknown operator %q", c.Operator).
			WithDetails(map[string]any{"valid": Operators()})
	}
	return nil
}

func unavailable(at, format string, args ...any) *clierr.Error {
	return clierr.Newf(clierr.FilterUnavailable, "filter unavailable: "+format, args...).
		WithDetails(map[string]any{"at": at})
}

var (
	symbolicRe = regexp.MustCompile(`^([\w:.-]+)\s*(!=|!~|<=|>=|==|=|~|<|>)\s*(.*)$`)
	namedRe    = regexp.MustCompile(`^([\w:.-]+)\s+([a-z-]+)(?:\s+(.*))?$`)
)

// ParseWhere parses a "property operator [value]" expression such as
// "status != done", "due <= today" or "tags contains work". Quotes around
// the value are stripped.
func ParseWhere(expr string) (Condition, error) {
	s := strings.TrimSpace(expr)
	m := symbolicRe.FindStringSubmatch(s)
	if m == nil {
		m = namedRe.FindStringSubmatch(s)
	}
	if m == nil {
		return Condition{}, clierr.Newf(clierr.FilterUnavailable,
			"cannot parse %q: expected \"property operator [value]\"", expr)
	}
	c := Condition{Property: m[1], Operator: CanonicalOperator(m[2])}
	if v := unquote(strings.TrimSpace(m[3])); v != "" || m[3] != "" {
		c.Value = v
	}
	if err := c.Validate(); err != nil {
		return Condition{}, err
	}
	return c, nil
}

// ParseWheres parses each expression and joins them with "and".
func ParseWheres(exprs []string) (*Group, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	g := AllOf()
	for _, e := range exprs {
		c, err := ParseWhere(e)
		if err != nil {
			return nil, err
		}
		g.Children = append(g.Children, Node{Condition: &c})
	}
	return g, nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
