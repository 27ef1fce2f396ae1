// Package origin parses browser Origin headers and applies the relay's
// origin allow-list.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Origin is a normalized browser origin: lower-case scheme and hostname,
// default ports removed. The opaque origin "null" has Null set.
type Origin struct {
	Scheme string
	// Host is hostname[:port], with IPv6 literals bracketed.
	Host string
	Null bool
}

func (o Origin) String() string {
	if o.Null {
		return "null"
	}
	return o.Scheme + "://" + o.Host
}

// Parse validates and normalizes an Origin header value. Paths other than
// "/", queries, fragments and userinfo are rejected.
func Parse(raw string) (Origin, bool) {
	trimmed := strings.TrimSpace(raw)
	switch trimmed {
	case "":
		return Origin{}, false
	case "null":
		return Origin{Null: true}, true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Origin{}, false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return Origin{}, false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, false
	}

	host, ok := normalizeHost(u.Host, scheme)
	if !ok {
		return Origin{}, false
	}
	return Origin{Scheme: scheme, Host: host}, true
}

// Allowed reports whether o may open a relay connection on requestHost.
//
// With a non-empty allow-list, entries are "*" or normalized origins. With an
// empty list only same-host requests are accepted. The scheme is ignored for
// the same-host check so TLS-terminating proxies in front of the relay work.
func Allowed(o Origin, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		s := o.String()
		for _, a := range allowed {
			if a == "*" || a == s {
				return true
			}
		}
		return false
	}

	if o.Null {
		return false
	}
	reqHost, ok := normalizeHost(requestHost, o.Scheme)
	return ok && reqHost == o.Host
}

func normalizeHost(rawHost, scheme string) (string, bool) {
	hostname, port, ok := splitHostPort(strings.ToLower(strings.TrimSpace(rawHost)))
	if !ok || hostname == "" {
		return "", false
	}

	var n uint64
	if port != "" {
		var err error
		n, err = strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
	}
	if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
		n = 0
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if n != 0 {
		return hostname + ":" + strconv.FormatUint(n, 10), true
	}
	return hostname, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := raw[1:end], raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		port, found := strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ := strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
