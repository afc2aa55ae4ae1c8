package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

const versionSegment = "/v1"

var (
	ErrEmptyURL    = errors.New("base url is required")
	ErrUnreachable = errors.New("completion endpoint unreachable")
)

// Prober checks whether an OpenAI-compatible service answers at baseURL.
type Prober interface {
	Probe(ctx context.Context, baseURL, apiKey string) error
}

// Result describes the canonical base URL chosen by the resolver.
type Result struct {
	CanonicalURL string `json:"canonicalUrl"`
	// Normalized is set when the /v1 suffix had to be appended.
	Normalized bool `json:"normalized"`
}

// Resolver validates a user supplied base URL and picks the canonical form.
type Resolver struct {
	prober Prober
}

// NewResolver 创建地址解析器。
func NewResolver(prober Prober) *Resolver {
	return &Resolver{prober: prober}
}

// Resolve probes rawURL and, when that fails, a single /v1-suffixed fallback.
func (r *Resolver) Resolve(ctx context.Context, rawURL, apiKey string) (Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Result{}, ErrEmptyURL
	}

	err := r.prober.Probe(ctx, rawURL, apiKey)
	if err == nil {
		return Result{CanonicalURL: rawURL}, nil
	}
	log.Printf("[endpoint] probe failed for %s: %v", rawURL, err)

	if HasVersionSuffix(rawURL) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnreachable, rawURL)
	}

	fallback := WithVersionSuffix(rawURL)
	if err := r.prober.Probe(ctx, fallback, apiKey); err != nil {
		log.Printf("[endpoint] fallback probe failed for %s: %v", fallback, err)
		return Result{}, fmt.Errorf("%w: %s", ErrUnreachable, rawURL)
	}

	log.Printf("[endpoint] resolved %s to %s", rawURL, fallback)
	return Result{CanonicalURL: fallback, Normalized: true}, nil
}

// HasVersionSuffix reports whether rawURL already ends with the /v1 segment.
func HasVersionSuffix(rawURL string) bool {
	return strings.HasSuffix(strings.TrimSuffix(rawURL, "/"), versionSegment)
}

// WithVersionSuffix appends /v1, inserting a separator only when needed.
func WithVersionSuffix(rawURL string) string {
	if strings.HasSuffix(rawURL, "/") {
		return rawURL + strings.TrimPrefix(versionSegment, "/")
	}
	return rawURL + versionSegment
}
