package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every ID-consistency and structural validation
// failure raised while loading a configuration document.
var ErrInvalidConfig = fmt.Errorf("invalid configuration")

// document mirrors the on-disk YAML shape before it is reshaped into the
// map-keyed Config the rest of the service reads.
type document struct {
	Settings    Settings     `yaml:"settings"`
	Upstreams   []Upstream   `yaml:"upstreams"`
	Downstreams []Downstream `yaml:"downstreams"`
	Routes      []Route      `yaml:"routes"`
}

// Load reads a YAML configuration file from path, applies defaults, and
// validates ID consistency across upstreams/downstreams/routes before
// returning an immutable Config snapshot.
func Load(path string, logger *zap.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyDefaults(&doc.Settings)

	cfg := &Config{
		Settings:    doc.Settings,
		Upstreams:   make(map[string]Upstream, len(doc.Upstreams)),
		Downstreams: make(map[string]Downstream, len(doc.Downstreams)),
		Routes:      doc.Routes,
	}
	for _, u := range doc.Upstreams {
		cfg.Upstreams[u.ID] = u
	}
	for _, d := range doc.Downstreams {
		cfg.Downstreams[d.ID] = d
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("path", path),
		zap.Int("upstreams", len(cfg.Upstreams)),
		zap.Int("downstreams", len(cfg.Downstreams)),
		zap.Int("routes", len(cfg.Routes)),
	)
	return cfg, nil
}

func applyDefaults(s *Settings) {
	if s.Debounce.MaxWaitMs == 0 {
		s.Debounce.MaxWaitMs = 20_000
	}
	if s.Debounce.SubmitTimeoutMs == 0 {
		s.Debounce.SubmitTimeoutMs = 50
	}
	if s.Debounce.Batch == 0 {
		s.Debounce.Batch = 200
	}
	if s.Debounce.Concurrency == 0 {
		s.Debounce.Concurrency = 64
	}
	if s.Debounce.Shards == 0 {
		s.Debounce.Shards = 1
	}
	if s.Debounce.LatestTTLMs == 0 {
		s.Debounce.LatestTTLMs = 86_400_000
	}
	if s.Debounce.KeyPrefix == "" {
		s.Debounce.KeyPrefix = "debounce:"
	}
}

// validate enforces that every route rule and fallback references an
// upstream/downstream id actually present in the document — a dangling
// reference is a configuration-gap bug, not a runtime condition to
// tolerate.
func validate(cfg *Config) error {
	for i, route := range cfg.Routes {
		if route.MatchKey != "ad_id" && route.MatchKey != "campaign_id" {
			return fmt.Errorf("%w: route %d: match_key must be ad_id or campaign_id, got %q", ErrInvalidConfig, i, route.MatchKey)
		}
		if route.FallbackUpstream != "" {
			if _, ok := cfg.Upstreams[route.FallbackUpstream]; !ok {
				return fmt.Errorf("%w: route %d: unknown fallback_upstream %q", ErrInvalidConfig, i, route.FallbackUpstream)
			}
		}
		if route.FallbackDownstream != "" {
			if _, ok := cfg.Downstreams[route.FallbackDownstream]; !ok {
				return fmt.Errorf("%w: route %d: unknown fallback_downstream %q", ErrInvalidConfig, i, route.FallbackDownstream)
			}
		}
		for j, rule := range route.Rules {
			if rule.Upstream != "" {
				if _, ok := cfg.Upstreams[rule.Upstream]; !ok {
					return fmt.Errorf("%w: route %d rule %d: unknown upstream %q", ErrInvalidConfig, i, j, rule.Upstream)
				}
			}
			if rule.Downstream != "" {
				if _, ok := cfg.Downstreams[rule.Downstream]; !ok {
					return fmt.Errorf("%w: route %d rule %d: unknown downstream %q", ErrInvalidConfig, i, j, rule.Downstream)
				}
			}
		}
	}
	return nil
}
