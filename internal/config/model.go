// Package config provides a typed, immutable view over the relay's YAML
// configuration tree: settings, upstreams, downstreams and routes. The
// loader validates ID-consistency once at startup; request handlers only
// ever read the resulting snapshot.
package config

// Settings holds the top-level, non-entity configuration knobs.
type Settings struct {
	CallbackBase   string         `yaml:"callback_base"`
	Timezone       string         `yaml:"timezone"`
	AppSecret      string         `yaml:"app_secret"`
	RoutingEnabled *bool          `yaml:"routing_enabled"`
	Debounce       DebounceConfig `yaml:"debounce"`
	Redis          RedisConfig    `yaml:"redis"`
}

// RoutingEnabled_ reports whether the global kill switch is on, defaulting
// to true when absent from the YAML document.
func (s Settings) RoutingEnabled_() bool {
	if s.RoutingEnabled == nil {
		return true
	}
	return *s.RoutingEnabled
}

// DebounceConfig configures the Redis-backed coalescing dispatcher.
type DebounceConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MaxWaitMs       int64  `yaml:"max_wait_ms"`
	SubmitTimeoutMs int64  `yaml:"submit_timeout_ms"`
	Batch           int    `yaml:"batch"`
	Concurrency     int    `yaml:"concurrency"`
	Shards          int    `yaml:"shards"`
	LatestTTLMs     int64  `yaml:"latest_ttl_ms"`
	KeyPrefix       string `yaml:"key_prefix"`
	WriterPool      PoolConfig `yaml:"writer_pool"`
	WorkerPool      PoolConfig `yaml:"worker_pool"`
}

// PoolConfig sizes one of the two Redis connection pools described in
// SPEC_FULL.md's dual-pool supplement.
type PoolConfig struct {
	PoolSize     int `yaml:"pool_size"`
	DialTimeoutMs int `yaml:"dial_timeout_ms"`
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
}

// RedisConfig addresses the shared Redis instance backing the debounce
// manager.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Verify describes a callback signature-check block on an inbound adapter.
type Verify struct {
	Type       string `yaml:"type"` // currently only "hmac_sha256"
	SecretRef  string `yaml:"secret_ref"`
	MessageExp string `yaml:"message"`
}

// Retry configures the forwarder's budgeted retry loop for one adapter.
type Retry struct {
	Max       int   `yaml:"max"`
	BackoffMs int64 `yaml:"backoff_ms"`
}

// Adapter describes how to render and send one event-type's request,
// either outbound (to an upstream) or inbound (a callback from one).
type Adapter struct {
	URL           string            `yaml:"url"`
	Method        string            `yaml:"method"`
	Headers       map[string]string `yaml:"headers"`
	Body          interface{}       `yaml:"body"`
	Macros        map[string]string `yaml:"macros"`
	TimeoutMs     int64             `yaml:"timeout_ms"`
	Retry         Retry             `yaml:"retry"`
	FieldMap      map[string]string `yaml:"field_map"`
	Verify        *Verify           `yaml:"verify"`
	EventNameMap  interface{}       `yaml:"event_name_map"`
}

// Upstream is one ad-network partner: its outbound event adapters, its
// inbound callback adapters, and the secrets available to both.
type Upstream struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Secrets  map[string]string  `yaml:"secrets"`
	Adapters UpstreamAdapters   `yaml:"adapters"`
}

// UpstreamAdapters groups an upstream's outbound (track) and inbound
// (callback) adapter tables, both keyed by event type.
type UpstreamAdapters struct {
	Outbound        map[string]Adapter `yaml:"outbound"`
	InboundCallback map[string]Adapter `yaml:"inbound_callback"`
}

// Downstream is one publisher partner. The relay only needs its identity
// for ID-consistency validation; publishers bring their own templates via
// the track request's callback parameter.
type Downstream struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Rule is one routing rule within a Route.
type Rule struct {
	Equals         string                 `yaml:"equals"`
	Upstream       string                 `yaml:"upstream"`
	Downstream     string                 `yaml:"downstream"`
	Enabled        *bool                  `yaml:"enabled"`
	Throttle       *float64               `yaml:"throttle"`
	CallbackEvents interface{}            `yaml:"callback_events"`
	CustomParams   map[string]string      `yaml:"custom_params"`
	Debounce       *bool                  `yaml:"debounce"`
}

// Route groups rules matched against a single UDM field (ad_id or
// campaign_id), with a fallback applied when no rule matches.
type Route struct {
	MatchKey          string   `yaml:"match_key"`
	Rules             []Rule   `yaml:"rules"`
	FallbackUpstream   string  `yaml:"fallback_upstream"`
	FallbackDownstream string  `yaml:"fallback_downstream"`
	FallbackEnabled    bool    `yaml:"fallback_enabled"`
	FallbackThrottle   float64 `yaml:"fallback_throttle"`
}

// Config is the immutable, validated snapshot every request handler reads.
// It is built once at startup and never mutated afterwards — see
// SPEC_FULL.md's concurrency model for CONFIG's single-writer discipline.
type Config struct {
	Settings    Settings
	Upstreams   map[string]Upstream
	Downstreams map[string]Downstream
	Routes      []Route
}

// Enabled_ reports whether a rule is enabled, defaulting to true when the
// field is absent from the YAML document.
func (r Rule) Enabled_() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// ThrottleRate reports a rule's throttle rate, defaulting to 0.0 (never
// throttled) when absent.
func (r Rule) ThrottleRate() float64 {
	if r.Throttle == nil {
		return 0.0
	}
	return *r.Throttle
}

// DebounceEnabled reports whether this rule participates in debounce
// coalescing, defaulting to true when absent.
func (r Rule) DebounceEnabled() bool {
	if r.Debounce == nil {
		return true
	}
	return *r.Debounce
}
