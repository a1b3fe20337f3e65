// Package tmpl renders upstream URL/body templates and applies the
// downstream callback macro substitution described in SPEC_FULL.md §4.2 and
// §4.3. It sits directly on top of the expr package: macros are named
// pipeline expressions, precomputed once per render then substituted.
package tmpl

import (
	"strings"

	"github.com/arc-self/apps/adrelay-service/internal/expr"
)

// RenderURL substitutes every "{{name}}" occurrence in template with the
// evaluated value of macros["name"]. A macro referenced in the template but
// absent from macros, or one whose expression evaluates to Null, is
// substituted with the empty string.
func RenderURL(template string, macros map[string]string, ctx expr.Context) string {
	values := evalMacros(macros, ctx)
	return substitute(template, values)
}

// evalMacros evaluates every macro expression once, coercing Null to "".
func evalMacros(macros map[string]string, ctx expr.Context) map[string]string {
	values := make(map[string]string, len(macros))
	for name, expression := range macros {
		values[name] = expr.Eval(expression, ctx).AsString()
	}
	return values
}

func substitute(template string, values map[string]string) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "{{")
		if start < 0 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])
		end := strings.Index(template[start:], "}}")
		if end < 0 {
			b.WriteString(template[start:])
			break
		}
		end += start
		name := template[start+2 : end]
		b.WriteString(values[name])
		i = end + 2
	}
	return b.String()
}

// Body is the JSON-like tree shape eval_body_template walks: maps, slices,
// strings, and any other leaf type (numbers, bools, nil) passed through
// verbatim. It mirrors how the adapter's YAML-decoded "body" field looks
// once unmarshalled generically.
type Body = interface{}

// EvalBodyTemplate recursively evaluates every string leaf of tree as a
// pipeline expression, replacing it with the evaluated result. Map keys and
// non-string leaves are left untouched.
func EvalBodyTemplate(tree Body, ctx expr.Context) Body {
	switch node := tree.(type) {
	case string:
		return expr.Eval(node, ctx).AsString()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, v := range node {
			out[k] = EvalBodyTemplate(v, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, v := range node {
			out[i] = EvalBodyTemplate(v, ctx)
		}
		return out
	default:
		return node
	}
}
