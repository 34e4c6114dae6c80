package helpers

import (
	"errors"
	"net"
	"net/url"
	"path"
	"strings"
)

var clickIDParams = map[string]struct{}{
	"gclid":   {},
	"dclid":   {},
	"fbclid":  {},
	"msclkid": {},
	"igshid":  {},
}

// CanonicalURL normalises a document URL so the same page ingested twice
// maps to the same source. The scheme defaults to https; scheme and host are
// lowercased, default ports, fragments and tracking parameters are removed,
// the path is cleaned and the remaining query is sorted by key.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	} else if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", errors.New("url missing host")
	}
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			host = h
		}
	}
	u.Host = host

	p := u.Path
	if p == "" {
		p = "/"
	}
	clean := path.Clean("/" + p)
	if clean != "/" && strings.HasSuffix(p, "/") {
		clean += "/"
	}
	u.Path = clean
	u.RawPath = ""
	u.Fragment = ""

	query := u.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if _, drop := clickIDParams[lower]; drop || strings.HasPrefix(lower, "utm_") {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
