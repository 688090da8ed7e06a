package config

import (
	"path/filepath"
	"time"
)

// Store backends
const (
	StoreBackendBadger = "badger"
	StoreBackendMongo  = "mongo"
)

// Sequence backends
const (
	SequenceBackendStore = "store" // Same database as the keyed store
	SequenceBackendRedis = "redis"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent    string           `yaml:"default_user_agent"`
	DefaultDelayPerHost time.Duration    `yaml:"default_delay_per_host"`
	NumWorkers          int              `yaml:"num_workers"`                    // Concurrent items per crawl stage
	NumDownloadWorkers  int              `yaml:"num_download_workers,omitempty"` // Download pool size
	MaxRequestsPerHost  int              `yaml:"max_requests_per_host"`
	OutputBaseDir       string           `yaml:"output_base_dir"`
	StateDir            string           `yaml:"state_dir"`
	MaxRetries          int              `yaml:"max_retries,omitempty"`
	InitialRetryDelay   time.Duration    `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay       time.Duration    `yaml:"max_retry_delay,omitempty"`
	GlobalRunTimeout    time.Duration    `yaml:"global_run_timeout,omitempty"` // 0 = no timeout
	DBGCInterval        time.Duration    `yaml:"db_gc_interval,omitempty"`
	WriteStructureFile  *bool            `yaml:"write_structure_file,omitempty"` // nil = true
	HTTPClientSettings  HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Cache               CacheConfig      `yaml:"cache,omitempty"`
	Store               StoreConfig      `yaml:"store,omitempty"`
	Sequence            SequenceConfig   `yaml:"sequence,omitempty"`
	Site                SiteConfig       `yaml:"site"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"` // Overall request timeout; every fetch is bounded by it
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// CacheConfig controls the persistent HTTP response cache
type CacheConfig struct {
	Disabled          bool          `yaml:"disabled,omitempty"`
	Dir               string        `yaml:"dir,omitempty"`          // Defaults to <state_dir>/http_cache
	ExpireAfter       time.Duration `yaml:"expire_after,omitempty"` // Entries older than this are refetched
	AllowableCodes    []int         `yaml:"allowable_codes,omitempty"`
	AllowableMethods  []string      `yaml:"allowable_methods,omitempty"`
	IgnoredParameters []string      `yaml:"ignored_parameters,omitempty"` // Query params left out of the cache key
	IgnoredHeaders    []string      `yaml:"ignored_headers,omitempty"`    // Headers left out of the cache key
	StaleIfError      *bool         `yaml:"stale_if_error,omitempty"`
}

// StoreConfig selects and configures the keyed document store
type StoreConfig struct {
	Backend     string          `yaml:"backend,omitempty"`
	Dir         string          `yaml:"dir,omitempty"`        // Badger only; defaults to <state_dir>/records
	FindLimit   int             `yaml:"find_limit,omitempty"` // Default Find limit
	Mongo       MongoConfig     `yaml:"mongo,omitempty"`
	Collections CollectionNames `yaml:"collections,omitempty"`
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URI              string        `yaml:"uri"`
	Database         string        `yaml:"database"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout,omitempty"`
	OperationTimeout time.Duration `yaml:"operation_timeout,omitempty"`
}

// CollectionNames maps each record kind to its collection
type CollectionNames struct {
	Collections    string `yaml:"collections,omitempty"`
	SubCollections string `yaml:"sub_collections,omitempty"`
	Details        string `yaml:"details,omitempty"`
	Downloads      string `yaml:"downloads,omitempty"`
	Counters       string `yaml:"counters,omitempty"`
}

// SequenceConfig configures the sequence allocator
type SequenceConfig struct {
	Backend      string `yaml:"backend,omitempty"`
	RedisAddr    string `yaml:"redis_addr,omitempty"`
	RedisDB      int    `yaml:"redis_db,omitempty"`
	KeyPrefix    string `yaml:"key_prefix,omitempty"` // Counter key namespace (Redis keys and Badger counter keys)
	DefaultValue int64  `yaml:"default_value,omitempty"`
	RunCounter   string `yaml:"run_counter,omitempty"` // Counter that numbers pipeline runs
}

// SiteConfig describes the crawled site and how to read each level of it
type SiteConfig struct {
	BaseURL            string          `yaml:"base_url"` // Prefix joined to root-relative hrefs
	Cookie             string          `yaml:"cookie,omitempty"`
	UserAgent          string          `yaml:"user_agent,omitempty"`
	StartURLs          []string        `yaml:"start_urls"`
	CollectionStage    StageSelectors  `yaml:"collection_stage,omitempty"`
	SubCollectionStage StageSelectors  `yaml:"sub_collection_stage,omitempty"`
	DetailStage        DetailSelectors `yaml:"detail_stage,omitempty"`
	KindRules          []KindRule      `yaml:"kind_rules,omitempty"`
	ArtifactExtension  string          `yaml:"artifact_extension,omitempty"`
}

// StageSelectors tells the extractor where the cards and links of one listing page are
type StageSelectors struct {
	CardSelector       string `yaml:"card_selector"`
	AnchorSelector     string `yaml:"anchor_selector,omitempty"`
	SkipLeadingAnchors int    `yaml:"skip_leading_anchors,omitempty"`
	DynamicAnchorClass string `yaml:"dynamic_anchor_class,omitempty"` // Anchors carrying this class are not navigable links
	ReadTypeLabel      bool   `yaml:"read_type_label,omitempty"`      // Second anchor is the record type
}

// DetailSelectors locates the abstract and the artifact links on a detail page
type DetailSelectors struct {
	AbstractSelector string `yaml:"abstract_selector"`
	ArtifactSelector string `yaml:"artifact_selector"`
}

// KindRule labels an artifact URL that contains Contains with Kind
type KindRule struct {
	Contains string `yaml:"contains"`
	Kind     string `yaml:"kind"`
}

// GetEffectiveUserAgent returns the site user agent, falling back to the global one
func GetEffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveCacheDir returns the cache directory
func GetEffectiveCacheDir(appCfg AppConfig) string {
	if appCfg.Cache.Dir != "" {
		return appCfg.Cache.Dir
	}
	return filepath.Join(appCfg.StateDir, "http_cache")
}

// GetEffectiveStoreDir returns the Badger record store directory
func GetEffectiveStoreDir(appCfg AppConfig) string {
	if appCfg.Store.Dir != "" {
		return appCfg.Store.Dir
	}
	return filepath.Join(appCfg.StateDir, "records")
}

// GetEffectiveWriteStructureFile reports whether structure.txt is written after each download phase
func GetEffectiveWriteStructureFile(appCfg AppConfig) bool {
	if appCfg.WriteStructureFile != nil {
		return *appCfg.WriteStructureFile
	}
	return true
}

// GetEffectiveStaleIfError reports whether stale cache entries may be served on failure
func GetEffectiveStaleIfError(c CacheConfig) bool {
	if c.StaleIfError != nil {
		return *c.StaleIfError
	}
	return true
}
