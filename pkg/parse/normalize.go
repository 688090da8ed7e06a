package parse

import (
	"net"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL standardizes a URL for use in a cache key
// It lowercases the scheme and host, removes default ports (80 for http, 443 for https), removes trailing slashes from paths (unless root "/"), ensures empty path becomes "/", drops the fragment, drops query parameters named in ignoredParams and sorts the rest
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL, ignoredParams []string) string {
	if u == nil {
		return ""
	}
	// Work on a copy
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	// Remove default ports
	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil { // Host included a port
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}
	normalized.RawPath = ""
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.RawQuery = filterQuery(u.Query(), ignoredParams)

	return normalized.String()
}

// filterQuery drops ignored parameters and encodes the rest in sorted order
func filterQuery(q url.Values, ignoredParams []string) string {
	for _, p := range ignoredParams {
		q.Del(p)
	}
	for _, vs := range q {
		sort.Strings(vs)
	}
	return q.Encode() // Encode sorts by key
}

// ParseAndNormalize parses a URL string using the stricter url.ParseRequestURI (requiring a scheme) and then normalizes it using NormalizeURL
// Returns the normalized string, the parsed URL object, and any parse error
func ParseAndNormalize(urlStr string, ignoredParams []string) (string, *url.URL, error) {
	parsed, err := url.ParseRequestURI(urlStr)
	if err != nil {
		return "", nil, err
	}
	return NormalizeURL(parsed, ignoredParams), parsed, nil
}

// JoinBase resolves an extracted href against the configured base prefix.
// Root-relative hrefs ("/x") are appended to base; protocol-relative hrefs ("//host/x") take the base scheme; anything else is returned trimmed but otherwise unchanged.
func JoinBase(base, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(href, "//"):
		scheme := "https"
		if b, err := url.Parse(base); err == nil && b.Scheme != "" {
			scheme = b.Scheme
		}
		return scheme + ":" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	}
	return href
}
