package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// --- CategorizeError Tests ---

func TestCategorizeError_NilError(t *testing.T) {
	assert.Equal(t, "None", CategorizeError(nil))
}

func TestCategorizeError_SentinelErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"StoreUnavailable", ErrStoreUnavailable, "Store_Unavailable"},
		{"StoreConflict", ErrStoreConflict, "Store_Conflict"},
		{"InvalidQuery", ErrInvalidQuery, "Store_InvalidQuery"},
		{"InvalidRecord", ErrInvalidRecord, "Store_InvalidRecord"},
		{"RequestCreation", ErrRequestCreation, "Internal_RequestCreation"},
		{"ResponseBodyRead", ErrResponseBodyRead, "Network_BodyRead"},
		{"ConfigValidation", ErrConfigValidation, "Config_Validation"},
		{"ServerHTTPError", ErrServerHTTPError, "HTTP_5xx"},
		{"OtherHTTPError", ErrOtherHTTPError, "HTTP_OtherStatus"},
		{"Filesystem", ErrFilesystem, "Filesystem_Other"},
		{"Fetch", ErrFetch, "Fetch_Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategorizeError(tt.err))
		})
	}
}

func TestCategorizeError_WrappedErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "retry failed on 5xx",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, fmt.Errorf("%w: status 503", ErrServerHTTPError)),
			expected: "RetryFailed_HTTPServer",
		},
		{
			name:     "retry failed on connection refused",
			err:      fmt.Errorf("%w: %w", ErrRetryFailed, errors.New("dial tcp: connection refused")),
			expected: "RetryFailed_ConnectionRefused",
		},
		{
			name:     "client 404",
			err:      fmt.Errorf("%w: status 404 Not Found", ErrClientHTTPError),
			expected: "HTTP_404",
		},
		{
			name:     "store unavailable wraps driver error",
			err:      fmt.Errorf("%w: find 'collections': %w", ErrStoreUnavailable, errors.New("server selection timeout")),
			expected: "Store_Unavailable",
		},
		{
			name:     "filesystem permission",
			err:      fmt.Errorf("%w: create: %w", ErrFilesystem, os.ErrPermission),
			expected: "Filesystem_Permission",
		},
		{
			name:     "parsing HTML",
			err:      fmt.Errorf("%w: HTML document", ErrParsing),
			expected: "Content_ParsingHTML",
		},
		{
			name:     "context canceled",
			err:      fmt.Errorf("fetch: %w", context.Canceled),
			expected: "System_ContextCanceled",
		},
		{
			name:     "bare timeout string",
			err:      errors.New("i/o timeout"),
			expected: "Network_Timeout",
		},
		{
			name:     "unknown",
			err:      errors.New("something odd"),
			expected: "Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CategorizeError(tt.err))
		})
	}
}

// --- SanitizePathComponent Tests ---

func TestSanitizePathComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Plain Title", "Plain Title"},
		{"a/b\\c", "a_b_c"},
		{`Q: "Why?" <now>|!`, `Q_ _Why__ _now___`},
		{"#1 @home $5*", "_1 _home _5_"},
		{"  padded  ", "padded"},
		{"", "untitled"},
		{"..", "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePathComponent(tt.in))
		})
	}
}

func TestSanitizePathComponent_LongNames(t *testing.T) {
	ascii := SanitizePathComponent(strings.Repeat("a", 300))
	assert.Equal(t, strings.Repeat("a", maxPathComponentLength), ascii)

	// 3-byte runes: 100 is not a multiple of 3, so the cut must back up to a boundary
	cjk := SanitizePathComponent(strings.Repeat("深", 120))
	assert.LessOrEqual(t, len(cjk), maxPathComponentLength)
	assert.True(t, utf8.ValidString(cjk))
	assert.Equal(t, strings.Repeat("深", 33), cjk)
}

func TestSanitizePathComponent_Deterministic(t *testing.T) {
	in := "Deep Learning: A/B Testing?"
	assert.Equal(t, SanitizePathComponent(in), SanitizePathComponent(in))
}

// --- HashParts Tests ---

func TestHashParts(t *testing.T) {
	a := HashParts([]byte("ab"), []byte("c"))
	b := HashParts([]byte("a"), []byte("bc"))
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashParts([]byte("ab"), []byte("c")))
}
