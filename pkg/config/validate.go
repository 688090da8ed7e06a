package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	// NumDownloadWorkers
	if c.NumDownloadWorkers <= 0 {
		warnings = append(warnings, fmt.Sprintf(
			"num_download_workers not specified or invalid, defaulting to num_workers (%d)",
			c.NumWorkers))
		c.NumDownloadWorkers = c.NumWorkers
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	if c.DefaultDelayPerHost < 0 {
		warnings = append(warnings, "default_delay_per_host cannot be negative, setting to 0")
		c.DefaultDelayPerHost = 0
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './download'")
		c.OutputBaseDir = "./download"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './scraper_state'")
		c.StateDir = "./scraper_state"
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}

	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// GlobalRunTimeout
	if c.GlobalRunTimeout < 0 {
		warnings = append(warnings, "global_run_timeout cannot be negative, disabling timeout")
		c.GlobalRunTimeout = 0
	}

	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	if c.DefaultUserAgent == "" {
		c.DefaultUserAgent = "proceedings-scraper/1.0"
	}

	c.validateHTTPClientSettings()
	warnings = append(warnings, c.validateCache()...)

	storeWarnings, err := c.validateStore()
	warnings = append(warnings, storeWarnings...)
	if err != nil {
		return warnings, err
	}

	seqWarnings, err := c.validateSequence()
	warnings = append(warnings, seqWarnings...)
	if err != nil {
		return warnings, err
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (c *AppConfig) validateCache() (warnings []string) {
	cc := &c.Cache
	if cc.ExpireAfter < 0 {
		warnings = append(warnings, "cache.expire_after cannot be negative, defaulting to 72h")
		cc.ExpireAfter = 0
	}
	if cc.ExpireAfter == 0 {
		cc.ExpireAfter = 72 * time.Hour
	}
	if len(cc.AllowableCodes) == 0 {
		cc.AllowableCodes = []int{200, 400}
	}
	if len(cc.AllowableMethods) == 0 {
		cc.AllowableMethods = []string{"GET", "POST"}
	}
	for i, m := range cc.AllowableMethods {
		cc.AllowableMethods[i] = strings.ToUpper(m)
	}
	if cc.IgnoredParameters == nil {
		cc.IgnoredParameters = []string{"api_key"}
	}
	if cc.IgnoredHeaders == nil {
		cc.IgnoredHeaders = []string{"Cookie", "Authorization"}
	}
	return warnings
}

func (c *AppConfig) validateStore() (warnings []string, err error) {
	s := &c.Store
	switch s.Backend {
	case "":
		s.Backend = StoreBackendBadger
	case StoreBackendBadger:
	case StoreBackendMongo:
		if s.Mongo.URI == "" {
			return warnings, fmt.Errorf("%w: store.mongo.uri is required for the mongo backend", utils.ErrConfigValidation)
		}
		if s.Mongo.Database == "" {
			warnings = append(warnings, "store.mongo.database is empty, defaulting to 'proceedings'")
			s.Mongo.Database = "proceedings"
		}
	default:
		return warnings, fmt.Errorf("%w: unknown store.backend %q", utils.ErrConfigValidation, s.Backend)
	}

	if s.Mongo.ConnectTimeout <= 0 {
		s.Mongo.ConnectTimeout = 10 * time.Second
	}
	if s.Mongo.OperationTimeout <= 0 {
		s.Mongo.OperationTimeout = 10 * time.Second
	}

	if s.FindLimit < 0 {
		warnings = append(warnings, "store.find_limit cannot be negative, defaulting to 30")
		s.FindLimit = 0
	}
	if s.FindLimit == 0 {
		s.FindLimit = 30
	}

	n := &s.Collections
	if n.Collections == "" {
		n.Collections = "collections"
	}
	if n.SubCollections == "" {
		n.SubCollections = "sub_collections"
	}
	if n.Details == "" {
		n.Details = "details"
	}
	if n.Downloads == "" {
		n.Downloads = "downloads"
	}
	if n.Counters == "" {
		n.Counters = "counters"
	}
	return warnings, nil
}

func (c *AppConfig) validateSequence() (warnings []string, err error) {
	s := &c.Sequence
	switch s.Backend {
	case "":
		s.Backend = SequenceBackendStore
	case SequenceBackendStore:
	case SequenceBackendRedis:
		if s.RedisAddr == "" {
			return warnings, fmt.Errorf("%w: sequence.redis_addr is required for the redis backend", utils.ErrConfigValidation)
		}
	default:
		return warnings, fmt.Errorf("%w: unknown sequence.backend %q", utils.ErrConfigValidation, s.Backend)
	}
	if s.KeyPrefix == "" {
		s.KeyPrefix = "seq:"
	}
	if s.RunCounter == "" {
		s.RunCounter = "pipeline_runs"
	}
	return warnings, nil
}

// Validate checks SiteConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (c *SiteConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: site needs base_url", utils.ErrConfigValidation)
	}
	u, parseErr := url.Parse(c.BaseURL)
	if parseErr != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: site base_url %q is not an absolute URL", utils.ErrConfigValidation, c.BaseURL)
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	// Required: StartURLs
	if len(c.StartURLs) == 0 {
		return nil, fmt.Errorf("%w: site has no start_urls", utils.ErrConfigValidation)
	}

	if c.CollectionStage.CardSelector == "" {
		c.CollectionStage = StageSelectors{
			CardSelector:       "li.card",
			SkipLeadingAnchors: 1,
			DynamicAnchorClass: "use-ajax",
			ReadTypeLabel:      true,
		}
	}
	if c.SubCollectionStage.CardSelector == "" {
		c.SubCollectionStage = StageSelectors{CardSelector: "div.card"}
	}
	for _, s := range []*StageSelectors{&c.CollectionStage, &c.SubCollectionStage} {
		if s.AnchorSelector == "" {
			s.AnchorSelector = "a"
		}
		if s.SkipLeadingAnchors < 0 {
			warnings = append(warnings, fmt.Sprintf("skip_leading_anchors for %q cannot be negative, setting to 0", s.CardSelector))
			s.SkipLeadingAnchors = 0
		}
	}

	if c.DetailStage.AbstractSelector == "" {
		c.DetailStage.AbstractSelector = "div.field--name-field-cc-abstract div.field__item"
	}
	if c.DetailStage.ArtifactSelector == "" {
		c.DetailStage.ArtifactSelector = `a[type="button"][data-action="Download"]`
	}

	if len(c.KindRules) == 0 {
		warnings = append(warnings, "kind_rules is empty, defaulting to 'papers' and 'slides' substring rules")
		c.KindRules = []KindRule{
			{Contains: "papers", Kind: "papers"},
			{Contains: "slides", Kind: "slides"},
		}
	}
	for i, r := range c.KindRules {
		if r.Contains == "" || r.Kind == "" {
			return warnings, fmt.Errorf("%w: kind_rules[%d] needs both contains and kind", utils.ErrConfigValidation, i)
		}
	}

	c.ArtifactExtension = strings.TrimPrefix(c.ArtifactExtension, ".")
	if c.ArtifactExtension == "" {
		c.ArtifactExtension = "pdf"
	}

	return warnings, nil
}
