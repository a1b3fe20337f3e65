package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

func enabledTrue() *bool { v := true; return &v }
func throttleOf(f float64) *float64 { return &f }

func sampleConfig() *config.Config {
	return &config.Config{
		Upstreams:   map[string]config.Upstream{"up1": {ID: "up1"}, "up2": {ID: "up2"}},
		Downstreams: map[string]config.Downstream{"ds1": {ID: "ds1"}},
		Routes: []config.Route{
			{
				MatchKey: "ad_id",
				Rules: []config.Rule{
					{Equals: "ad-1", Upstream: "up1", Downstream: "ds1", Enabled: enabledTrue(), Throttle: throttleOf(0.25)},
				},
				FallbackUpstream:   "up2",
				FallbackDownstream: "ds1",
				FallbackEnabled:    true,
				FallbackThrottle:   0,
			},
		},
	}
}

func TestChooseRoute_MatchesRule(t *testing.T) {
	record := udm.New()
	record.Ad.AdID = "ad-1"
	d := ChooseRoute(record, sampleConfig())
	assert.Equal(t, "up1", d.UpstreamID)
	assert.Equal(t, "ds1", d.DownstreamID)
	assert.True(t, d.Enabled)
	assert.Equal(t, 0.25, d.Throttle)
}

func TestChooseRoute_FallsBackWhenNoRuleMatches(t *testing.T) {
	record := udm.New()
	record.Ad.AdID = "ad-unknown"
	d := ChooseRoute(record, sampleConfig())
	assert.Equal(t, "up2", d.UpstreamID)
	assert.Equal(t, "ds1", d.DownstreamID)
}

func TestChooseRoute_NoRoutesAtAll(t *testing.T) {
	d := ChooseRoute(udm.New(), &config.Config{})
	assert.Equal(t, "", d.UpstreamID)
	assert.False(t, d.Enabled)
	assert.Equal(t, 0.0, d.Throttle)
}

func TestFindMatchingRule(t *testing.T) {
	record := udm.New()
	record.Ad.AdID = "ad-1"
	rule, ok := FindMatchingRule(record, sampleConfig())
	require.True(t, ok)
	assert.Equal(t, "up1", rule.Upstream)

	record2 := udm.New()
	record2.Ad.AdID = "nope"
	_, ok2 := FindMatchingRule(record2, sampleConfig())
	assert.False(t, ok2)
}

func TestShouldThrottle_BoundaryRates(t *testing.T) {
	assert.False(t, ShouldThrottle("any-rid", 0))
	assert.False(t, ShouldThrottle("any-rid", -1))
	assert.True(t, ShouldThrottle("any-rid", 1))
	assert.True(t, ShouldThrottle("any-rid", 2))
}

func TestShouldThrottle_Deterministic(t *testing.T) {
	r1 := ShouldThrottle("fixed-rid-123", 0.5)
	r2 := ShouldThrottle("fixed-rid-123", 0.5)
	assert.Equal(t, r1, r2)
}

func TestShouldThrottle_EmpiricalRateWithinTolerance(t *testing.T) {
	const n = 10000
	const rate = 0.3
	count := 0
	for i := 0; i < n; i++ {
		rid := "rid-" + itoaForTest(i)
		if ShouldThrottle(rid, rate) {
			count++
		}
	}
	empirical := float64(count) / float64(n)
	assert.InDelta(t, rate, empirical, 0.03)
}

func itoaForTest(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
