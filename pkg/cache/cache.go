// Package cache is a persistent HTTP response cache in front of the retrying fetcher.
// Fresh entries are served without a network call; when a refetch fails, an
// existing entry (fresh or expired) can be served instead, marked stale.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/proceedings-scraper/pkg/config"
	"github.com/Sriram-PR/proceedings-scraper/pkg/parse"
	"github.com/Sriram-PR/proceedings-scraper/pkg/storage"
	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

const entryKeyPrefix = "resp:"

// Doer performs one logical HTTP request, retries included. *fetch.Fetcher satisfies it.
type Doer interface {
	FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Request describes an outbound call. A non-empty Body is sent and is part of the cache key.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a fully read HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	URL        string
	StoredAt   time.Time // Zero unless the response came from the cache
	FromCache  bool
	Stale      bool // Served from an expired or fallback entry after a failed refetch
}

// FetchError is returned when a request failed and no usable cache entry exists
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Cause, utils.ErrFetch}
}

// entry is the stored form of a response
type entry struct {
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	URL        string      `json:"url"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Stats counts cache outcomes since the fetcher was created
type Stats struct {
	Hits   int64
	Misses int64
	Stale  int64
	Stored int64
}

// CachedFetcher serves requests from a Badger-backed response cache, falling back to a Doer
type CachedFetcher struct {
	doer           Doer
	db             *badger.DB // nil when caching is disabled
	expireAfter    time.Duration
	staleIfError   bool
	ignoredParams  []string
	ignoredHeaders map[string]bool
	allowedCodes   map[int]bool
	allowedMethods map[string]bool
	log            *logrus.Entry
	now            func() time.Time
	stopGC         context.CancelFunc

	hits, misses, stale, stored atomic.Int64
}

// New opens the response cache described by cfg.Cache. Call Close when the run ends.
func New(ctx context.Context, cfg *config.AppConfig, doer Doer, logger *logrus.Entry) (*CachedFetcher, error) {
	cc := cfg.Cache
	logger = logger.WithField("component", "http_cache")

	c := &CachedFetcher{
		doer:           doer,
		expireAfter:    cc.ExpireAfter,
		staleIfError:   config.GetEffectiveStaleIfError(cc),
		ignoredParams:  cc.IgnoredParameters,
		ignoredHeaders: make(map[string]bool, len(cc.IgnoredHeaders)),
		allowedCodes:   make(map[int]bool, len(cc.AllowableCodes)),
		allowedMethods: make(map[string]bool, len(cc.AllowableMethods)),
		log:            logger,
		now:            time.Now,
		stopGC:         func() {},
	}
	for _, h := range cc.IgnoredHeaders {
		c.ignoredHeaders[http.CanonicalHeaderKey(h)] = true
	}
	for _, code := range cc.AllowableCodes {
		c.allowedCodes[code] = true
	}
	for _, m := range cc.AllowableMethods {
		m = strings.ToUpper(m)
		if m == http.MethodGet || m == http.MethodPost {
			c.allowedMethods[m] = true
		}
	}

	if cc.Disabled {
		logger.Info("HTTP cache disabled, all requests go to the network")
		return c, nil
	}

	dir := config.GetEffectiveCacheDir(*cfg)
	db, err := storage.OpenBadgerDB(dir, "http_cache", logger)
	if err != nil {
		return nil, err
	}
	c.db = db

	gcCtx, cancel := context.WithCancel(ctx)
	c.stopGC = cancel
	go storage.RunBadgerGC(gcCtx, db, cfg.DBGCInterval, logger)

	logger.WithFields(logrus.Fields{"dir": dir, "expire_after": cc.ExpireAfter, "stale_if_error": c.staleIfError}).Info("HTTP cache opened")
	return c, nil
}

// Get fetches url with GET
func (c *CachedFetcher) Get(ctx context.Context, url string) (*Response, error) {
	return c.Fetch(ctx, Request{Method: http.MethodGet, URL: url})
}

// Fetch returns a fresh cached response when one exists, otherwise goes to the network.
// Network failures fall back to any stored entry when stale-if-error is on.
func (c *CachedFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	req.Method = strings.ToUpper(req.Method)
	reqLog := c.log.WithFields(logrus.Fields{"url": req.URL, "method": req.Method})

	cacheable := c.db != nil && c.allowedMethods[req.Method]
	var (
		key    []byte
		cached *entry
	)
	if cacheable {
		k, err := c.key(req)
		if err != nil {
			return nil, &FetchError{URL: req.URL, Cause: err}
		}
		key = k
		cached, err = c.load(key)
		if err != nil {
			reqLog.Warnf("Ignoring unreadable cache entry: %v", err)
			cached = nil
		}
		if cached != nil && c.fresh(cached) {
			c.hits.Add(1)
			reqLog.Debug("Cache hit")
			return cached.response(false), nil
		}
		c.misses.Add(1)
	}

	resp, err := c.network(ctx, req)
	if err == nil {
		if cacheable {
			if errStore := c.store(key, resp); errStore != nil {
				reqLog.Warnf("Failed to store response in cache: %v", errStore)
			} else {
				c.stored.Add(1)
			}
		}
		return resp, nil
	}

	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	if cached != nil && c.staleIfError {
		c.stale.Add(1)
		reqLog.WithFields(logrus.Fields{
			"error_type": utils.CategorizeError(err),
			"stored_at":  cached.StoredAt,
		}).Warnf("Fetch failed, serving stale cache entry: %v", err)
		return cached.response(true), nil
	}
	return nil, err
}

// network performs the request and reads the whole body. Statuses outside the allow-list become a *FetchError.
func (c *CachedFetcher) network(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Cause: fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	httpResp, fetchErr := c.doer.FetchWithRetry(ctx, httpReq)
	if httpResp == nil {
		if fetchErr == nil {
			fetchErr = errors.New("no response")
		}
		if errors.Is(fetchErr, context.Canceled) {
			return nil, fetchErr
		}
		return nil, &FetchError{URL: req.URL, Cause: fetchErr}
	}
	defer httpResp.Body.Close()

	if !c.allowedCodes[httpResp.StatusCode] {
		_, _ = io.Copy(io.Discard, httpResp.Body)
		cause := fetchErr
		if cause == nil {
			cause = fmt.Errorf("%w: status %d is not cacheable", utils.ErrOtherHTTPError, httpResp.StatusCode)
		}
		return nil, &FetchError{URL: req.URL, StatusCode: httpResp.StatusCode, Cause: cause}
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &FetchError{URL: req.URL, StatusCode: httpResp.StatusCode, Cause: fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)}
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header.Clone(),
		Body:       data,
		URL:        req.URL,
	}, nil
}

// key hashes the request identity: method, normalized URL, non-ignored headers and body
func (c *CachedFetcher) key(req Request) ([]byte, error) {
	normalized, _, err := parse.ParseAndNormalize(req.URL, c.ignoredParams)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}

	names := make([]string, 0, len(req.Header))
	for name := range req.Header {
		canonical := http.CanonicalHeaderKey(name)
		if !c.ignoredHeaders[canonical] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var hdr strings.Builder
	for _, name := range names {
		hdr.WriteString(http.CanonicalHeaderKey(name))
		hdr.WriteString(": ")
		hdr.WriteString(strings.Join(req.Header[name], ","))
		hdr.WriteString("\n")
	}

	return []byte(entryKeyPrefix + utils.HashParts([]byte(req.Method), []byte(normalized), []byte(hdr.String()), req.Body)), nil
}

func (c *CachedFetcher) fresh(e *entry) bool {
	return c.expireAfter <= 0 || c.now().Sub(e.StoredAt) < c.expireAfter
}

func (c *CachedFetcher) load(key []byte) (*entry, error) {
	var e *entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var decoded entry
			if err := json.Unmarshal(val, &decoded); err != nil {
				return fmt.Errorf("%w: %w", utils.ErrParsing, err)
			}
			e = &decoded
			return nil
		})
	})
	return e, err
}

func (c *CachedFetcher) store(key []byte, resp *Response) error {
	val, err := json.Marshal(entry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		URL:        resp.URL,
		StoredAt:   c.now().UTC(),
	})
	if err != nil {
		return err
	}
	return storage.UpdateWithRetry(c.db, c.log, func(txn *badger.Txn) error {
		return txn.Set(key, val)
	})
}

func (e *entry) response(stale bool) *Response {
	return &Response{
		StatusCode: e.StatusCode,
		Header:     e.Header,
		Body:       e.Body,
		URL:        e.URL,
		StoredAt:   e.StoredAt,
		FromCache:  true,
		Stale:      stale,
	}
}

// Stats returns a snapshot of the outcome counters
func (c *CachedFetcher) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Stale:  c.stale.Load(),
		Stored: c.stored.Load(),
	}
}

// LogStats writes the outcome counters at info level
func (c *CachedFetcher) LogStats() {
	s := c.Stats()
	c.log.WithFields(logrus.Fields{
		"hits":   s.Hits,
		"misses": s.Misses,
		"stale":  s.Stale,
		"stored": s.Stored,
	}).Info("HTTP cache summary")
}

// Close stops garbage collection and closes the cache database
func (c *CachedFetcher) Close() error {
	c.stopGC()
	if c.db == nil || c.db.IsClosed() {
		return nil
	}
	return c.db.Close()
}
