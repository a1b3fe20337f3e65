// Package expr implements the pipeline expression language used by the
// template renderer to compute macro values: constants, secret references,
// HMAC signing, joins, path lookups into the UDM, and a small set of
// post-processing stages chained with '|'.
//
// Grounded on the evaluator-as-narrow-interface design described in
// SPEC_FULL.md's design-notes section: the evaluator only needs a struct
// accessor (udm.UDM.Get) plus a secrets map and a helpers registry, never
// host-language reflection.
package expr

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// PathResolver is satisfied by *udm.UDM; kept as an interface so this
// package has no import-time dependency on udm (and so tests can supply a
// trivial map-backed fake).
type PathResolver interface {
	Get(path string) (string, bool)
}

// Context bundles everything an expression may read: the event record, the
// resolved secrets for this request (upstream defaults overridden by
// route-level custom_params), and helper functions such as cb_url().
type Context struct {
	UDM     PathResolver
	Secrets map[string]string
	Helpers map[string]func() string
}

// Eval evaluates a single expression string against ctx. It never panics
// and never returns an error: malformed stages and missing helpers coerce
// to Null rather than failing the whole render.
func Eval(expression string, ctx Context) Value {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return Null()
	}
	if strings.HasPrefix(expression, "const:") {
		return String(expression[len("const:"):])
	}

	stages := splitTopLevel(expression, '|')
	value := evalHead(strings.TrimSpace(stages[0]), ctx)
	for _, stage := range stages[1:] {
		value = applyStage(value, strings.TrimSpace(stage), ctx)
	}
	return value
}

func evalHead(s string, ctx Context) Value {
	if name, args, ok := parseCall(s); ok {
		return evalCall(name, args, ctx)
	}
	// A quoted literal (used as a join() element or bare constant).
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') {
		return String(unquote(s))
	}
	// Otherwise a dotted path into the UDM.
	if ctx.UDM == nil {
		return Null()
	}
	v, ok := ctx.UDM.Get(s)
	if !ok {
		return Null()
	}
	return String(v)
}

func evalCall(name string, args []string, ctx Context) Value {
	switch name {
	case "secret_ref":
		if len(args) != 1 {
			return Null()
		}
		key := unquote(args[0])
		val, ok := ctx.Secrets[key]
		if !ok {
			return String("")
		}
		return String(val)

	case "hmac_sha256":
		if len(args) != 2 {
			return Null()
		}
		secret := Eval(args[0], ctx).AsString()
		message := Eval(args[1], ctx).AsString()
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write([]byte(message))
		return String(hex.EncodeToString(mac.Sum(nil)))

	case "join":
		if len(args) != 2 {
			return Null()
		}
		sep := unquote(args[0])
		elements := parseArrayLiteral(args[1])
		parts := make([]string, 0, len(elements))
		for _, el := range elements {
			v := Eval(el, ctx)
			parts = append(parts, v.AsString())
		}
		return String(strings.Join(parts, sep))

	case "cb_url":
		if ctx.Helpers == nil {
			return Null()
		}
		fn, ok := ctx.Helpers["cb_url"]
		if !ok {
			return Null()
		}
		return String(fn())

	default:
		return Null()
	}
}

// applyStage applies one pipeline stage to the value carried so far. All
// stages pass Null through unchanged.
func applyStage(value Value, stageExpr string, ctx Context) Value {
	name, args, ok := parseCall(stageExpr)
	if !ok {
		return Null()
	}
	switch name {
	case "coalesce":
		if !value.IsEmptyOrNull() {
			return value
		}
		if len(args) != 1 {
			return Null()
		}
		return String(unquote(args[0]))

	case "to_upper":
		if value.IsNull() {
			return value
		}
		return String(strings.ToUpper(value.AsString()))

	case "to_lower":
		if value.IsNull() {
			return value
		}
		return String(strings.ToLower(value.AsString()))

	case "trim":
		if value.IsNull() {
			return value
		}
		return String(strings.TrimSpace(value.AsString()))

	case "url_encode":
		if value.IsNull() {
			return value
		}
		return String(percentEncodeAll(value.AsString()))

	case "normalize_encode":
		if value.IsNull() {
			return value
		}
		return String(normalizeEncode(value.AsString()))

	case "hash_md5":
		if value.IsNull() {
			return value
		}
		sum := md5.Sum([]byte(value.AsString()))
		return String(hex.EncodeToString(sum[:]))

	case "hash_sha256":
		if value.IsNull() {
			return value
		}
		sum := sha256.Sum256([]byte(value.AsString()))
		return String(hex.EncodeToString(sum[:]))

	case "date_format":
		if value.IsNull() {
			return value
		}
		if len(args) != 1 {
			return Null()
		}
		return String(dateFormat(value, unquote(args[0])))

	default:
		return Null()
	}
}

// dateFormat applies a small set of strftime-style tokens to a millisecond
// epoch value. "%s" emits the value as-is. Unparseable values or unknown
// formats also fall back to emitting the value unchanged — a malformed
// date_format call is not allowed to fail the whole render.
func dateFormat(value Value, format string) string {
	if format == "%s" {
		return value.AsString()
	}
	ms, err := strconv.ParseInt(value.AsString(), 10, 64)
	if err != nil {
		return value.AsString()
	}
	return formatEpochMillis(ms, format)
}
