package fetch

import (
	"errors"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
)

// NewClient creates the shared HTTP client. Every request it sends carries defaultHeaders
// (the site cookie and user agent) unless the request already sets that header.
func NewClient(cfg config.HTTPClientConfig, defaultHeaders http.Header, log *logrus.Entry) *http.Client {
	log.Info("Initializing HTTP client...")

	dialer := &net.Dialer{
		Timeout:   cfg.DialerTimeout,
		KeepAlive: cfg.DialerKeepAlive,
	}

	transport := &http.Transport{
		Proxy:                  http.ProxyFromEnvironment,
		DialContext:            dialer.DialContext,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           cfg.MaxIdleConns,
		MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:        cfg.IdleConnTimeout,
		TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
		ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
		MaxResponseHeaderBytes: 1 << 20,
	}
	if cfg.ForceAttemptHTTP2 != nil {
		transport.ForceAttemptHTTP2 = *cfg.ForceAttemptHTTP2
	}

	client := &http.Client{
		Timeout:   cfg.Timeout, // Bounds every fetch, including body read
		Transport: &headerTransport{base: transport, headers: defaultHeaders.Clone()},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			log.Debugf("Redirecting: %s -> %s (hop %d)", via[len(via)-1].URL, req.URL, len(via))
			return nil
		},
	}
	log.WithField("default_headers", headerNames(defaultHeaders)).Info("HTTP client initialized.")
	return client
}

// headerTransport adds fixed headers to outgoing requests
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	out := req.Clone(req.Context())
	for name, values := range t.headers {
		if out.Header.Get(name) != "" || len(values) == 0 {
			continue
		}
		out.Header[name] = append([]string(nil), values...)
	}
	return t.base.RoundTrip(out)
}

// DefaultHeaders builds the fixed header set sent with every request
func DefaultHeaders(userAgent, cookie string) http.Header {
	h := http.Header{}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	return h
}

// headerNames lists header names only, so credentials never reach the log
func headerNames(h http.Header) []string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	return names
}
