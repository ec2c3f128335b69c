package relay

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// NormalizeAddress canonicalizes a relay URL so that equivalent spellings map
// to the same pool key. Normalization is idempotent: feeding the result back
// in returns it unchanged.
//
// Rules: bare hosts default to wss, http(s) maps to ws(s), scheme and host
// are lowercased, default ports are dropped, trailing slashes are stripped.
func NormalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty relay address")
	}
	if !strings.Contains(s, "://") {
		s = "wss://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse relay address: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "ws", "wss":
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Host)
	if h, p, splitErr := net.SplitHostPort(host); splitErr == nil {
		if (scheme == "wss" && p == "443") || (scheme == "ws" && p == "80") {
			host = h
		}
	}
	if host == "" {
		return "", fmt.Errorf("missing host in relay address %q", raw)
	}

	path := strings.TrimRight(u.Path, "/")

	var sb strings.Builder
	sb.WriteString(scheme)
	sb.WriteString("://")
	sb.WriteString(host)
	sb.WriteString(path)
	if u.RawQuery != "" {
		sb.WriteString("?")
		sb.WriteString(u.RawQuery)
	}
	return sb.String(), nil
}
