package expr

import (
	"strings"
	"time"
)

// formatEpochMillis renders a millisecond epoch timestamp using a small set
// of strftime-style tokens. Only the tokens that real downstream templates
// are observed to ask for are supported; anything else is left literal in
// the output rather than failing the render.
func formatEpochMillis(ms int64, format string) string {
	t := time.UnixMilli(ms).UTC()
	replacer := strings.NewReplacer(
		"%Y", t.Format("2006"),
		"%m", t.Format("01"),
		"%d", t.Format("02"),
		"%H", t.Format("15"),
		"%M", t.Format("04"),
		"%S", t.Format("05"),
	)
	return replacer.Replace(format)
}
