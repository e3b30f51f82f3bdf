// Package segment parses JSON rule trees and evaluates them against the
// recipient store. The grammar is closed: a node is either a leaf condition
// over one attribute or an AND/OR group of nodes. Unknown shapes, logics,
// and operators are rejected at parse time.
package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Operator enumerates the leaf comparison operators.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not_equals"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpExists    Operator = "exists"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpGte       Operator = "gte"
	OpLte       Operator = "lte"
	OpMatches   Operator = "matches"
)

// Logic joins the children of a group node.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Node is one validated node of the rule tree: exactly one of Leaf or Group
// is set.
type Node struct {
	Leaf  *Leaf
	Group *Group
}

// Leaf compares one recipient attribute against a value. ConsentAttribute is
// the only reserved attribute name; everything else reads the attribute bag.
type Leaf struct {
	Attribute string
	Operator  Operator
	Value     any
}

// Group joins child nodes with AND or OR.
type Group struct {
	Logic      Logic
	Conditions []Node
}

// ConsentAttribute is the reserved attribute name resolved against the
// consent column instead of the attribute bag.
const ConsentAttribute = "consent_state"

// rawNode is the untyped boundary shape before validation.
type rawNode struct {
	Attribute *string         `json:"attribute"`
	Operator  *string         `json:"operator"`
	Value     any             `json:"value"`
	Logic     *string         `json:"logic"`
	Condition json.RawMessage `json:"conditions"`
}

// Parse validates a JSON rule tree into the typed form.
func Parse(definition []byte) (*Node, error) {
	var raw rawNode
	dec := json.NewDecoder(bytes.NewReader(definition))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse rule tree: %w", err)
	}
	return buildNode(raw)
}

func buildNode(raw rawNode) (*Node, error) {
	switch {
	case raw.Logic != nil:
		if raw.Attribute != nil || raw.Operator != nil {
			return nil, fmt.Errorf("node mixes group and leaf fields")
		}
		return buildGroup(raw)
	case raw.Attribute != nil:
		if raw.Condition != nil {
			return nil, fmt.Errorf("node mixes group and leaf fields")
		}
		return buildLeaf(raw)
	}
	return nil, fmt.Errorf("node is neither a leaf nor a group")
}

func buildGroup(raw rawNode) (*Node, error) {
	logic := Logic(*raw.Logic)
	if logic != LogicAnd && logic != LogicOr {
		return nil, fmt.Errorf("unknown logic %q", *raw.Logic)
	}
	if raw.Condition == nil {
		return nil, fmt.Errorf("group has no conditions")
	}
	var children []rawNode
	dec := json.NewDecoder(bytes.NewReader(raw.Condition))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&children); err != nil {
		return nil, fmt.Errorf("parse group conditions: %w", err)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("group has no conditions")
	}
	g := &Group{Logic: logic}
	for _, c := range children {
		n, err := buildNode(c)
		if err != nil {
			return nil, err
		}
		g.Conditions = append(g.Conditions, *n)
	}
	return &Node{Group: g}, nil
}

func buildLeaf(raw rawNode) (*Node, error) {
	if raw.Operator == nil {
		return nil, fmt.Errorf("leaf %q has no operator", *raw.Attribute)
	}
	op := Operator(*raw.Operator)
	leaf := &Leaf{Attribute: *raw.Attribute, Operator: op, Value: raw.Value}

	switch op {
	case OpEquals, OpNotEquals:
		if raw.Value == nil {
			return nil, fmt.Errorf("operator %s requires a value", op)
		}
	case OpIn, OpNotIn:
		if _, ok := raw.Value.([]any); !ok {
			return nil, fmt.Errorf("operator %s requires an array value", op)
		}
	case OpExists:
		// No value needed.
	case OpGt, OpLt, OpGte, OpLte:
		if _, err := numericValue(raw.Value); err != nil {
			return nil, fmt.Errorf("operator %s: %w", op, err)
		}
	case OpMatches:
		s, ok := raw.Value.(string)
		if !ok {
			return nil, fmt.Errorf("operator matches requires a string value")
		}
		if _, err := regexp.Compile(anchor(s)); err != nil {
			return nil, fmt.Errorf("operator matches: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", *raw.Operator)
	}
	return &Node{Leaf: leaf}, nil
}

// numericValue coerces a JSON value into float64 for comparison operators.
func numericValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("value %v is not numeric", v)
}

// anchor makes the regex match the whole value.
func anchor(expr string) string {
	if len(expr) > 0 && expr[0] == '^' {
		return expr
	}
	return "^(?:" + expr + ")$"
}
