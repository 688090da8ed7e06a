package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/proceedings-scraper/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := AppConfig{} // Zero value
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 4, cfg.NumDownloadWorkers)
	assert.Equal(t, 2, cfg.MaxRequestsPerHost)
	assert.Equal(t, "./download", cfg.OutputBaseDir)
	assert.Equal(t, "./scraper_state", cfg.StateDir)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxRetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.DBGCInterval)
	assert.NotEmpty(t, cfg.DefaultUserAgent)

	// HTTP client
	assert.Equal(t, 45*time.Second, cfg.HTTPClientSettings.Timeout)
	assert.Equal(t, 100, cfg.HTTPClientSettings.MaxIdleConns)
	assert.Equal(t, 15*time.Second, cfg.HTTPClientSettings.DialerTimeout)

	// Cache
	assert.Equal(t, 72*time.Hour, cfg.Cache.ExpireAfter)
	assert.Equal(t, []int{200, 400}, cfg.Cache.AllowableCodes)
	assert.Equal(t, []string{"GET", "POST"}, cfg.Cache.AllowableMethods)
	assert.Equal(t, []string{"api_key"}, cfg.Cache.IgnoredParameters)
	assert.Equal(t, []string{"Cookie", "Authorization"}, cfg.Cache.IgnoredHeaders)

	// Store
	assert.Equal(t, StoreBackendBadger, cfg.Store.Backend)
	assert.Equal(t, 30, cfg.Store.FindLimit)
	assert.Equal(t, "collections", cfg.Store.Collections.Collections)
	assert.Equal(t, "sub_collections", cfg.Store.Collections.SubCollections)
	assert.Equal(t, "details", cfg.Store.Collections.Details)
	assert.Equal(t, "downloads", cfg.Store.Collections.Downloads)
	assert.Equal(t, "counters", cfg.Store.Collections.Counters)

	// Sequence
	assert.Equal(t, SequenceBackendStore, cfg.Sequence.Backend)
	assert.Equal(t, "pipeline_runs", cfg.Sequence.RunCounter)

	assert.True(t, containsWarning(warnings, "num_workers should be > 0"))
	assert.True(t, containsWarning(warnings, "num_download_workers not specified"))
	assert.True(t, containsWarning(warnings, "output_base_dir is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := AppConfig{
		NumWorkers:         8,
		NumDownloadWorkers: 4,
		MaxRequestsPerHost: 10,
		OutputBaseDir:      "/output",
		StateDir:           "/state",
		MaxRetries:         5,
		InitialRetryDelay:  2 * time.Second,
		MaxRetryDelay:      60 * time.Second,
		Cache: CacheConfig{
			ExpireAfter:       time.Hour,
			IgnoredParameters: []string{},
			AllowableMethods:  []string{"get"},
		},
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 8, cfg.NumWorkers)
	assert.Equal(t, 4, cfg.NumDownloadWorkers)
	assert.Equal(t, time.Hour, cfg.Cache.ExpireAfter)
	assert.Empty(t, cfg.Cache.IgnoredParameters, "explicit empty list is kept")
	assert.Equal(t, []string{"GET"}, cfg.Cache.AllowableMethods)
}

func TestAppConfig_Validate_NegativeValues(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name: "negative max_retries",
			setup: func(c *AppConfig) {
				c.MaxRetries = -1
				c.InitialRetryDelay = 1 * time.Second // Prevent default of 3 retries
			},
			wantWarning: "max_retries cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.MaxRetries)
			},
		},
		{
			name: "negative global_run_timeout",
			setup: func(c *AppConfig) {
				c.GlobalRunTimeout = -1 * time.Second
			},
			wantWarning: "global_run_timeout cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, time.Duration(0), c.GlobalRunTimeout)
			},
		},
		{
			name: "negative expire_after",
			setup: func(c *AppConfig) {
				c.Cache.ExpireAfter = -time.Minute
			},
			wantWarning: "cache.expire_after cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 72*time.Hour, c.Cache.ExpireAfter)
			},
		},
		{
			name: "negative find_limit",
			setup: func(c *AppConfig) {
				c.Store.FindLimit = -3
			},
			wantWarning: "store.find_limit cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 30, c.Store.FindLimit)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{NumWorkers: 1, MaxRequestsPerHost: 1, OutputBaseDir: "/out", StateDir: "/state"}
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning),
				"expected warning containing %q, got %v", tt.wantWarning, warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_RetryDelayInversion(t *testing.T) {
	cfg := AppConfig{
		MaxRetries:        3,
		InitialRetryDelay: 60 * time.Second, // Greater than max
		MaxRetryDelay:     10 * time.Second,
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "initial_retry_delay"))
	assert.Equal(t, 10*time.Second, cfg.InitialRetryDelay)
}

func TestAppConfig_Validate_Backends(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*AppConfig)
		wantErr string
	}{
		{
			name:    "unknown store backend",
			setup:   func(c *AppConfig) { c.Store.Backend = "sqlite" },
			wantErr: "unknown store.backend",
		},
		{
			name:    "mongo without uri",
			setup:   func(c *AppConfig) { c.Store.Backend = StoreBackendMongo },
			wantErr: "store.mongo.uri is required",
		},
		{
			name:    "unknown sequence backend",
			setup:   func(c *AppConfig) { c.Sequence.Backend = "etcd" },
			wantErr: "unknown sequence.backend",
		},
		{
			name:    "redis without address",
			setup:   func(c *AppConfig) { c.Sequence.Backend = SequenceBackendRedis },
			wantErr: "sequence.redis_addr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := AppConfig{}
			tt.setup(&cfg)

			_, err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAppConfig_Validate_MongoDefaults(t *testing.T) {
	cfg := AppConfig{Store: StoreConfig{Backend: StoreBackendMongo, Mongo: MongoConfig{URI: "mongodb://localhost:27017"}}}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "store.mongo.database is empty"))
	assert.Equal(t, "proceedings", cfg.Store.Mongo.Database)
	assert.Equal(t, 10*time.Second, cfg.Store.Mongo.OperationTimeout)
}

func TestSiteConfig_Validate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SiteConfig
		wantErr string
	}{
		{
			name:    "missing base_url",
			cfg:     SiteConfig{StartURLs: []string{"https://example.org/list"}},
			wantErr: "needs base_url",
		},
		{
			name:    "relative base_url",
			cfg:     SiteConfig{BaseURL: "/relative", StartURLs: []string{"https://example.org/list"}},
			wantErr: "not an absolute URL",
		},
		{
			name:    "missing start_urls",
			cfg:     SiteConfig{BaseURL: "https://example.org"},
			wantErr: "no start_urls",
		},
		{
			name: "incomplete kind rule",
			cfg: SiteConfig{
				BaseURL:   "https://example.org",
				StartURLs: []string{"https://example.org/list"},
				KindRules: []KindRule{{Contains: "papers"}},
			},
			wantErr: "kind_rules[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSiteConfig_Validate_Defaults(t *testing.T) {
	cfg := SiteConfig{
		BaseURL:           "https://example.org/",
		StartURLs:         []string{"https://example.org/list"},
		ArtifactExtension: ".PDF",
	}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.True(t, containsWarning(warnings, "kind_rules is empty"))
	assert.Equal(t, "https://example.org", cfg.BaseURL)
	assert.Equal(t, "li.card", cfg.CollectionStage.CardSelector)
	assert.Equal(t, 1, cfg.CollectionStage.SkipLeadingAnchors)
	assert.Equal(t, "use-ajax", cfg.CollectionStage.DynamicAnchorClass)
	assert.True(t, cfg.CollectionStage.ReadTypeLabel)
	assert.Equal(t, "a", cfg.CollectionStage.AnchorSelector)
	assert.Equal(t, "div.card", cfg.SubCollectionStage.CardSelector)
	assert.False(t, cfg.SubCollectionStage.ReadTypeLabel)
	assert.Equal(t, "div.field--name-field-cc-abstract div.field__item", cfg.DetailStage.AbstractSelector)
	assert.Len(t, cfg.KindRules, 2)
	assert.Equal(t, "PDF", cfg.ArtifactExtension)
}

func TestAppConfig_YAMLDecode(t *testing.T) {
	raw := `
default_user_agent: test-agent
num_workers: 3
store:
  backend: mongo
  mongo:
    uri: mongodb://db:27017
    database: conf
site:
  base_url: https://example.org
  start_urls:
    - https://example.org/proceedings
  collection_stage:
    card_selector: li.item
    skip_leading_anchors: 2
  kind_rules:
    - contains: /slides/
      kind: slides
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "test-agent", cfg.DefaultUserAgent)
	assert.Equal(t, 3, cfg.NumWorkers)
	assert.Equal(t, StoreBackendMongo, cfg.Store.Backend)
	assert.Equal(t, "conf", cfg.Store.Mongo.Database)
	assert.Equal(t, "li.item", cfg.Site.CollectionStage.CardSelector)
	assert.Equal(t, 2, cfg.Site.CollectionStage.SkipLeadingAnchors)
	assert.Equal(t, []KindRule{{Contains: "/slides/", Kind: "slides"}}, cfg.Site.KindRules)
}

// containsWarning checks if any warning contains the substring.
func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
