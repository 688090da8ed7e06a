package utils

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrFetch            = errors.New("fetch failed with no usable cache entry")
	ErrParsing          = errors.New("parsing error") // Wraps HTML, URL and record decoding errors
	ErrFilesystem       = errors.New("filesystem error")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreConflict    = errors.New("store write conflict") // Concurrent writers kept colliding on one key
	ErrInvalidQuery     = errors.New("invalid store query")
	ErrInvalidRecord    = errors.New("invalid record")
	ErrDownload         = errors.New("artifact download failed")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrConfigValidation = errors.New("configuration validation error")
)

// CategorizeError maps an error to a short category string for the error_type log field.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return "Store_Unavailable"
	case errors.Is(err, ErrStoreConflict):
		return "Store_Conflict"
	case errors.Is(err, ErrInvalidQuery):
		return "Store_InvalidQuery"
	case errors.Is(err, ErrInvalidRecord):
		return "Store_InvalidRecord"
	case errors.Is(err, ErrRetryFailed):
		// Wrapped with two %w verbs, so match through errors.Is rather than Unwrap
		if errors.Is(err, ErrServerHTTPError) {
			return "RetryFailed_HTTPServer"
		}
		if errors.Is(err, ErrClientHTTPError) {
			return "RetryFailed_HTTPClient"
		}
		return "RetryFailed_" + networkCategory(err)
	case errors.Is(err, ErrClientHTTPError):
		msg := err.Error()
		for _, code := range []string{"400", "401", "403", "404", "429"} {
			if strings.Contains(msg, " "+code+" ") || strings.HasSuffix(msg, " "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrParsing):
		msg := err.Error()
		if strings.Contains(msg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(msg, "HTML") {
			return "Content_ParsingHTML"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	}

	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}

	if cat := networkCategory(err); cat != "Other" {
		return "Network_" + cat
	}
	if errors.Is(err, ErrFetch) || errors.Is(err, ErrDownload) {
		return "Fetch_Other"
	}
	return "Unknown"
}

// networkCategory classifies transport failures by type and message.
func networkCategory(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "Timeout"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "DNSLookup"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "TLS"
	case strings.Contains(msg, "reset by peer"):
		return "ConnectionReset"
	case strings.Contains(msg, "eof"):
		return "EOF"
	}
	return "Other"
}
