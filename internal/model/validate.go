package model

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Field length limits for FactInput. They keep a single producer from filling
// TEXT columns with unbounded payloads.
const (
	MaxFactTypeLen   = 100
	MaxKeyLen        = 200
	MaxSourceTypeLen = 100
	MaxValueLen      = 64 * 1024 // 64 KB
)

// ErrValidation is the sentinel wrapped by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError names the input field that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// privateIPRanges is the set of CIDR blocks considered non-public.
// Populated once at package init; used by ValidateSourceURL.
var privateIPRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16", // link-local
		"::1/128",
		"fc00::/7",  // unique-local IPv6
		"fe80::/10", // link-local IPv6
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err == nil {
			privateIPRanges = append(privateIPRanges, network)
		}
	}
}

// Validate checks that the input carries every identity field and that the
// optional fields are well formed. Only confidence has a default; identity
// fields are never filled in.
func (in FactInput) Validate() error {
	if in.Subject.IsZero() {
		return &ValidationError{Field: "subject", Message: "is required"}
	}
	if !in.Subject.Type.Valid() {
		return &ValidationError{Field: "entity_type", Message: fmt.Sprintf("is not a known entity type (got %q)", in.Subject.Type)}
	}
	if in.Subject.ID == uuid.Nil {
		return &ValidationError{Field: "entity_id", Message: "is required"}
	}
	for _, f := range []struct {
		name, value string
		max         int
	}{
		{"fact_type", in.FactType, MaxFactTypeLen},
		{"key", in.Key, MaxKeyLen},
		{"value", in.Value, MaxValueLen},
		{"source_type", in.SourceType, MaxSourceTypeLen},
	} {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Message: "is required"}
		}
		if len(f.value) > f.max {
			return &ValidationError{Field: f.name, Message: fmt.Sprintf("exceeds maximum length of %d", f.max)}
		}
	}
	if in.Confidence != nil {
		c := *in.Confidence
		if math.IsNaN(c) || c < 0 || c > 1 {
			return &ValidationError{Field: "confidence", Message: "must be between 0 and 1"}
		}
	}
	if in.SourceURL != nil {
		if err := ValidateSourceURL(*in.SourceURL); err != nil {
			return &ValidationError{Field: "source_url", Message: err.Error()}
		}
	}
	return nil
}

// ValidateSourceURL ensures a source_url is a publicly routable http or https
// URL. It rejects other schemes, embedded credentials, and private or
// loopback hosts.
func ValidateSourceURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("is not a valid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("must use http or https scheme (got %q)", u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("must not include credentials")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("must include a host")
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("must not point to localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, r := range privateIPRanges {
			if r.Contains(ip) {
				return fmt.Errorf("must not point to a private or loopback address")
			}
		}
	}
	return nil
}
