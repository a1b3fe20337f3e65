// Package router picks the upstream/downstream pair for an inbound event,
// and computes the deterministic throttle decision shared by the track
// entrypoint and the callback handler.
package router

import (
	"crypto/md5"
	"encoding/binary"
	"math"

	"github.com/arc-self/apps/adrelay-service/internal/config"
	"github.com/arc-self/apps/adrelay-service/internal/udm"
)

// Decision is the outcome of ChooseRoute: which upstream/downstream pair to
// use, whether the link is enabled, and its throttle rate.
type Decision struct {
	UpstreamID   string
	DownstreamID string
	Enabled      bool
	Throttle     float64
}

// ChooseRoute scans cfg.Routes in order and returns the first matching
// rule's decision, falling back to the first route's fallback fields when
// no rule matches, and to an all-zero disabled decision when there are no
// routes at all.
func ChooseRoute(record *udm.UDM, cfg *config.Config) Decision {
	if len(cfg.Routes) == 0 {
		return Decision{}
	}
	for _, route := range cfg.Routes {
		key := matchValue(record, route.MatchKey)
		if key == "" {
			continue
		}
		for _, rule := range route.Rules {
			if rule.Equals == key {
				return Decision{
					UpstreamID:   rule.Upstream,
					DownstreamID: rule.Downstream,
					Enabled:      rule.Enabled_(),
					Throttle:     rule.ThrottleRate(),
				}
			}
		}
	}
	first := cfg.Routes[0]
	return Decision{
		UpstreamID:   first.FallbackUpstream,
		DownstreamID: first.FallbackDownstream,
		Enabled:      first.FallbackEnabled,
		Throttle:     first.FallbackThrottle,
	}
}

// FindMatchingRule returns the rule ChooseRoute would have matched, so
// callers (the track entrypoint, the callback handler) can read
// callback_events, custom_params and debounce off of it. Returns
// (Rule{}, false) when only a fallback applies or no route exists, since a
// fallback carries no rule-level fields.
func FindMatchingRule(record *udm.UDM, cfg *config.Config) (config.Rule, bool) {
	for _, route := range cfg.Routes {
		key := matchValue(record, route.MatchKey)
		if key == "" {
			continue
		}
		for _, rule := range route.Rules {
			if rule.Equals == key {
				return rule, true
			}
		}
	}
	return config.Rule{}, false
}

func matchValue(record *udm.UDM, matchKey string) string {
	switch matchKey {
	case "ad_id":
		return record.Ad.AdID
	case "campaign_id":
		return record.Ad.CampaignID
	}
	return ""
}

// ShouldThrottle implements the deterministic MD5-based decision: the first
// 8 bytes of md5(rid), read big-endian, divided by 2^64, gives a uniform
// score in [0,1). The rid is throttled iff that score is less than rate.
// Rates at or below 0 never throttle; rates at or above 1 always do.
func ShouldThrottle(rid string, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	sum := md5.Sum([]byte(rid))
	n := binary.BigEndian.Uint64(sum[:8])
	score := float64(n) / math.Pow(2, 64)
	return score < rate
}
