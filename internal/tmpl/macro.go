package tmpl

import (
	"regexp"
	"strings"

	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

// placeholderPattern matches any "__NAME__" token, including ones this
// alias table doesn't recognise — those are still stripped to "", per
// SPEC_FULL.md §4.3 ("unmatched placeholders are replaced by empty string,
// not left in the URL").
var placeholderPattern = regexp.MustCompile(`__[A-Z0-9_]+__`)

// aliasGroups maps every recognised placeholder name to the UDM field it
// reads from. Multiple spellings of the same concept are accepted because
// upstream-supplied downstream templates are not under this system's
// control.
var aliasGroups = map[string]func(*udm.UDM) string{
	"EVENT":      func(u *udm.UDM) string { return u.Event.Name },
	"EVENT_TYPE": func(u *udm.UDM) string { return u.Event.Name },
	"EVENTTYPE":  func(u *udm.UDM) string { return u.Event.Name },
	"EVT":        func(u *udm.UDM) string { return u.Event.Name },
	"TYPE":       func(u *udm.UDM) string { return u.Event.Name },

	"CLICK_ID": func(u *udm.UDM) string { return u.Click.ID },
	"CLICKID":  func(u *udm.UDM) string { return u.Click.ID },
	"CLID":     func(u *udm.UDM) string { return u.Click.ID },
	"CLKID":    func(u *udm.UDM) string { return u.Click.ID },

	"AMOUNT": func(u *udm.UDM) string { return u.Meta.Amount },
	"PRICE":  func(u *udm.UDM) string { return u.Meta.Amount },
	"VALUE":  func(u *udm.UDM) string { return u.Meta.Amount },

	"DAYS":       func(u *udm.UDM) string { return u.Meta.Days },
	"RETENTION":  func(u *udm.UDM) string { return u.Meta.Days },
	"RETAIN_DAYS": func(u *udm.UDM) string { return u.Meta.Days },
}

// ApplyMacros substitutes every "__NAME__" token in template using the
// alias groups derived from record. Unrecognised placeholders, and
// recognised ones whose backing field is empty, both resolve to "".
func ApplyMacros(template string, record *udm.UDM) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(token, "__"), "__")
		resolve, ok := aliasGroups[name]
		if !ok || record == nil {
			return ""
		}
		return resolve(record)
	})
}
