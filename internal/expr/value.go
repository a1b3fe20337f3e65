package expr

// Kind tags a Value's underlying representation. The evaluator is
// runtime-typed on purpose — see SPEC_FULL.md's design-notes section on
// avoiding eval-time reflection on host types.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindBool
)

// Value is the tagged variant every expression stage consumes and produces.
// Null is a first-class short-circuit: every stage treats it as pass-through.
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	Bool bool
}

// Null returns the null variant.
func Null() Value { return Value{Kind: KindNull} }

// String wraps a string value.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// IsNull reports whether v is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsString coerces v to its string representation. Null coerces to "".
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindString:
		return v.Str
	case KindInt:
		return itoa(v.Int)
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	}
	return ""
}

// IsEmptyOrNull reports whether v is null or an empty string — the
// condition `coalesce` tests for.
func (v Value) IsEmptyOrNull() bool {
	return v.IsNull() || (v.Kind == KindString && v.Str == "")
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
