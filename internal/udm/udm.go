// Package udm implements the Unified Data Model: the canonical in-memory
// event shape shared by the track entrypoint, the router, the expression
// evaluator and the callback handler.
//
// Hot fields are a typed struct; the long tail (meta.ext.*, arbitrary query
// parameters the caller sends) lives in a side-channel string-keyed map so
// the expression evaluator's dotted-path accessor can reach both without
// reflection.
package udm

import "strings"

// Event describes whether this record is a click or impression report, and
// (callbacks only) the upstream-reported conversion event name.
type Event struct {
	Type string // "click" or "imp"
	Name string // only set on callbacks
}

// Click carries downstream-identifying fields.
type Click struct {
	Source string // downstream id
	ID     string // click/request identifier, used by the macro applier
}

// Ad carries the ad/channel/campaign identifiers the router matches on.
type Ad struct {
	AdID       string
	ChannelID  string
	CampaignID string
}

// Device carries device-identifying fields used for debounce keying and
// inbound field mapping.
type Device struct {
	OS        string
	OSVersion string
	Model     string
	Brand     string
	IDFA      string
	OAID      string
	IMEI      string
	AndroidID string
	CAID      string
	MAC       string
}

// User carries hashed user-identifying fields.
type User struct {
	PhoneMD5    string
	EmailSHA256 string
}

// Net carries transport-adjacent fields. Per spec these are NEVER inferred
// from actual transport headers — they are empty unless the caller supplies
// them explicitly as query parameters.
type Net struct {
	IP string
	UA string
}

// Time carries the event timestamp in milliseconds since epoch.
type Time struct {
	TS int64
}

// Meta carries bookkeeping fields plus the ext long-tail map.
type Meta struct {
	DownstreamID      string
	UpstreamID        string
	OriginalEventName string
	Amount            string
	Days              string
	Ext               map[string]string
}

// UDM is the canonical record threaded through routing, templating and
// persistence.
type UDM struct {
	Event  Event
	Click  Click
	Ad     Ad
	Device Device
	User   User
	Net    Net
	Time   Time
	Meta   Meta
}

// New returns a zero-value UDM with its ext map initialised.
func New() *UDM {
	return &UDM{Meta: Meta{Ext: map[string]string{}}}
}

// Get resolves a dotted path (e.g. "ad.ad_id", "meta.ext.foo") against the
// UDM. Returns (value, true) on a hit, ("", false) on a miss — the caller
// (the expression evaluator) treats a miss as the Null variant.
func (u *UDM) Get(path string) (string, bool) {
	if u == nil {
		return "", false
	}
	parts := strings.SplitN(path, ".", 3)
	if len(parts) < 2 {
		return "", false
	}
	switch parts[0] {
	case "event":
		switch parts[1] {
		case "type":
			return nonEmpty(u.Event.Type)
		case "name":
			return nonEmpty(u.Event.Name)
		}
	case "click":
		switch parts[1] {
		case "source":
			return nonEmpty(u.Click.Source)
		case "id":
			return nonEmpty(u.Click.ID)
		}
	case "ad":
		switch parts[1] {
		case "ad_id":
			return nonEmpty(u.Ad.AdID)
		case "channel_id":
			return nonEmpty(u.Ad.ChannelID)
		case "campaign_id":
			return nonEmpty(u.Ad.CampaignID)
		}
	case "device":
		switch parts[1] {
		case "os":
			return nonEmpty(u.Device.OS)
		case "os_version":
			return nonEmpty(u.Device.OSVersion)
		case "model":
			return nonEmpty(u.Device.Model)
		case "brand":
			return nonEmpty(u.Device.Brand)
		case "idfa":
			return nonEmpty(u.Device.IDFA)
		case "oaid":
			return nonEmpty(u.Device.OAID)
		case "imei":
			return nonEmpty(u.Device.IMEI)
		case "android_id":
			return nonEmpty(u.Device.AndroidID)
		case "caid":
			return nonEmpty(u.Device.CAID)
		case "mac":
			return nonEmpty(u.Device.MAC)
		}
	case "user":
		switch parts[1] {
		case "phone_md5":
			return nonEmpty(u.User.PhoneMD5)
		case "email_sha256":
			return nonEmpty(u.User.EmailSHA256)
		}
	case "net":
		switch parts[1] {
		case "ip":
			return nonEmpty(u.Net.IP)
		case "ua":
			return nonEmpty(u.Net.UA)
		}
	case "time":
		switch parts[1] {
		case "ts":
			if u.Time.TS == 0 {
				return "", false
			}
			return itoa(u.Time.TS), true
		}
	case "meta":
		switch parts[1] {
		case "downstream_id":
			return nonEmpty(u.Meta.DownstreamID)
		case "upstream_id":
			return nonEmpty(u.Meta.UpstreamID)
		case "original_event_name":
			return nonEmpty(u.Meta.OriginalEventName)
		case "amount":
			return nonEmpty(u.Meta.Amount)
		case "days":
			return nonEmpty(u.Meta.Days)
		case "ext":
			if len(parts) < 3 {
				return "", false
			}
			v, ok := u.Meta.Ext[parts[2]]
			if !ok {
				return "", false
			}
			return nonEmpty(v)
		}
	}
	return "", false
}

// DeviceKey derives the debounce grouping key for one record: the first
// non-empty device id field wins (trimmed and lower-cased), else a
// lower-cased IP/UA/OS composite, else "unknown".
func (u *UDM) DeviceKey() string {
	candidates := []struct {
		field string
		value string
	}{
		{"idfa", u.Device.IDFA},
		{"oaid", u.Device.OAID},
		{"imei", u.Device.IMEI},
		{"android_id", u.Device.AndroidID},
		{"caid", u.Device.CAID},
	}
	for _, c := range candidates {
		v := strings.TrimSpace(c.value)
		if v != "" {
			return c.field + ":" + strings.ToLower(v)
		}
	}
	if u.Net.IP != "" || u.Net.UA != "" || u.Device.OS != "" {
		return strings.ToLower("ipuaos:" + u.Net.IP + "|" + u.Net.UA + "|" + u.Device.OS)
	}
	return "unknown"
}

func nonEmpty(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	return s, true
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
