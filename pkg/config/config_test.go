package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func boolPtr(b bool) *bool {
	return &b
}

func TestGetEffectiveUserAgent(t *testing.T) {
	tests := []struct {
		name     string
		siteCfg  SiteConfig
		appCfg   AppConfig
		expected string
	}{
		{
			name:     "site user agent overrides global",
			siteCfg:  SiteConfig{UserAgent: "site-ua"},
			appCfg:   AppConfig{DefaultUserAgent: "global-ua"},
			expected: "site-ua",
		},
		{
			name:     "site empty uses global",
			siteCfg:  SiteConfig{},
			appCfg:   AppConfig{DefaultUserAgent: "global-ua"},
			expected: "global-ua",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetEffectiveUserAgent(tt.siteCfg, tt.appCfg))
		})
	}
}

func TestGetEffectiveDirs(t *testing.T) {
	appCfg := AppConfig{StateDir: "/state"}
	assert.Equal(t, filepath.Join("/state", "http_cache"), GetEffectiveCacheDir(appCfg))
	assert.Equal(t, filepath.Join("/state", "records"), GetEffectiveStoreDir(appCfg))

	appCfg.Cache.Dir = "/cache"
	appCfg.Store.Dir = "/records"
	assert.Equal(t, "/cache", GetEffectiveCacheDir(appCfg))
	assert.Equal(t, "/records", GetEffectiveStoreDir(appCfg))
}

func TestGetEffectiveWriteStructureFile(t *testing.T) {
	assert.True(t, GetEffectiveWriteStructureFile(AppConfig{}))
	assert.False(t, GetEffectiveWriteStructureFile(AppConfig{WriteStructureFile: boolPtr(false)}))
}

func TestGetEffectiveStaleIfError(t *testing.T) {
	assert.True(t, GetEffectiveStaleIfError(CacheConfig{}))
	assert.True(t, GetEffectiveStaleIfError(CacheConfig{StaleIfError: boolPtr(true)}))
	assert.False(t, GetEffectiveStaleIfError(CacheConfig{StaleIfError: boolPtr(false)}))
}
