package segment

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// sqlBuilder translates a validated rule tree into a WHERE fragment over the
// recipients table. Attribute leaves read the JSONB bag; the reserved
// consent_state attribute reads the consent column. Placeholders are
// numbered from 1; the caller appends its own args after ours.
type sqlBuilder struct {
	args []interface{}
}

// BuildWhere compiles a rule tree into (whereSQL, args). The consent gate
// `consent_state = 'OPT_IN'` is implicitly AND-ed at the root. The gate arg
// binds first so placeholders number left to right through the fragment.
func BuildWhere(root *Node) (string, []interface{}, error) {
	b := &sqlBuilder{}
	where := fmt.Sprintf("consent_state = %s", b.nextArg("OPT_IN"))
	cond, err := b.node(root)
	if err != nil {
		return "", nil, err
	}
	if cond != "" {
		where += " AND (" + cond + ")"
	}
	return where, b.args, nil
}

func (b *sqlBuilder) nextArg(value interface{}) string {
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) node(n *Node) (string, error) {
	if n.Group != nil {
		return b.group(n.Group)
	}
	return b.leaf(n.Leaf)
}

func (b *sqlBuilder) group(g *Group) (string, error) {
	parts := make([]string, 0, len(g.Conditions))
	for i := range g.Conditions {
		sql, err := b.node(&g.Conditions[i])
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+sql+")")
	}
	op := " AND "
	if g.Logic == LogicOr {
		op = " OR "
	}
	return strings.Join(parts, op), nil
}

func (b *sqlBuilder) leaf(l *Leaf) (string, error) {
	if l.Attribute == ConsentAttribute {
		return b.consentLeaf(l)
	}

	text := fmt.Sprintf("attributes->>%s", b.nextArg(l.Attribute))

	switch l.Operator {
	case OpEquals:
		return fmt.Sprintf("%s = %s", text, b.nextArg(stringify(l.Value))), nil
	case OpNotEquals:
		return fmt.Sprintf("%s IS DISTINCT FROM %s", text, b.nextArg(stringify(l.Value))), nil
	case OpIn:
		return fmt.Sprintf("%s = ANY(%s)", text, b.nextArg(stringArray(l.Value))), nil
	case OpNotIn:
		return fmt.Sprintf("(%s IS NULL OR NOT %s = ANY(%s))", text, text, b.nextArg(stringArray(l.Value))), nil
	case OpExists:
		return fmt.Sprintf("attributes ? %s", b.nextArg(l.Attribute)), nil
	case OpGt, OpGte, OpLt, OpLte:
		f, err := numericValue(l.Value)
		if err != nil {
			return "", err
		}
		cmp := map[Operator]string{OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<="}[l.Operator]
		// Non-numeric stored values must not match; guard with a numeric test.
		return fmt.Sprintf("(%s ~ '^-?[0-9]+(\\.[0-9]+)?$' AND (%s)::numeric %s %s)",
			text, text, cmp, b.nextArg(f)), nil
	case OpMatches:
		return fmt.Sprintf("%s ~ %s", text, b.nextArg(anchor(l.Value.(string)))), nil
	}
	return "", fmt.Errorf("unsupported operator %q", l.Operator)
}

// consentLeaf restricts the reserved attribute to equality checks over the
// consent column.
func (b *sqlBuilder) consentLeaf(l *Leaf) (string, error) {
	switch l.Operator {
	case OpEquals:
		return fmt.Sprintf("consent_state = %s", b.nextArg(stringify(l.Value))), nil
	case OpNotEquals:
		return fmt.Sprintf("consent_state != %s", b.nextArg(stringify(l.Value))), nil
	case OpIn:
		return fmt.Sprintf("consent_state = ANY(%s)", b.nextArg(stringArray(l.Value))), nil
	}
	return "", fmt.Errorf("operator %q not valid for %s", l.Operator, ConsentAttribute)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		// JSON numbers arrive as float64; render integers without a decimal.
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%v", x)
	}
	return fmt.Sprintf("%v", v)
}

func stringArray(v any) pq.StringArray {
	items, _ := v.([]any)
	out := make(pq.StringArray, 0, len(items))
	for _, it := range items {
		out = append(out, stringify(it))
	}
	return out
}
