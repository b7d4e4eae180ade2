package citepost

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are stripped during normalization so the same page
// reached via different campaign links resolves to one bib item.
var trackingParams = map[string]bool{
	"utm_source": true, "utm_medium": true, "utm_campaign": true,
	"utm_term": true, "utm_content": true, "fbclid": true, "gclid": true,
}

// normalizeURL lower-cases scheme and host, drops a trailing slash and
// fragment, strips known tracking query parameters, and sorts the
// remaining ones, so the same destination maps to one key regardless of
// how it was linked.
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingParams[strings.ToLower(key)] {
				q.Del(key)
			}
		}
		keys := make([]string, 0, len(q))
		for key := range q {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		values := url.Values{}
		for _, key := range keys {
			values[key] = q[key]
		}
		u.RawQuery = values.Encode()
	}
	return u.String()
}
