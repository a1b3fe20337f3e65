package track

import "net/url"

// percentDecodeOnce decodes a query parameter value exactly once. Echo (and
// net/url before it) already percent-decodes every query value as it's
// parsed, so by the time Track sees raw.callback it has already gone
// through one decode pass; this performs the second decode the callback
// template needs, since the caller is expected to have percent-encoded the
// template itself before embedding it as a query value.
func percentDecodeOnce(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw, err
	}
	return decoded, nil
}
