package tmpl

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

func TestApplyMacros_KnownAliases(t *testing.T) {
	record := udm.New()
	record.Event.Name = "purchase"
	record.Click.ID = "clk-1"
	record.Meta.Amount = "9.99"
	record.Meta.Days = "7"

	template := "https://ds.example/cb?e=__EVENT__&et=__EVENTTYPE__&c=__CLID__&amt=__PRICE__&d=__RETENTION__"
	out := ApplyMacros(template, record)
	assert.Equal(t, "https://ds.example/cb?e=purchase&et=purchase&c=clk-1&amt=9.99&d=7", out)
}

func TestApplyMacros_UnknownPlaceholderBecomesEmpty(t *testing.T) {
	record := udm.New()
	out := ApplyMacros("x=__NOT_A_REAL_ALIAS__", record)
	assert.Equal(t, "x=", out)
}

func TestApplyMacros_NoPlaceholdersLeftAfterFullMap(t *testing.T) {
	record := udm.New()
	record.Event.Name = "install"
	record.Click.ID = "c1"
	record.Meta.Amount = "1"
	record.Meta.Days = "1"

	template := "__EVENT__ __CLICK_ID__ __AMOUNT__ __DAYS__"
	out := ApplyMacros(template, record)
	assert.False(t, regexp.MustCompile(`__[A-Z0-9_]+__`).MatchString(out))
}
