package client

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultLanguageTTL = 5 * time.Minute
	languageCacheKey   = "languages"
)

// Language is one entry of the judge's language catalog.
type Language struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// LanguageCache holds the judge language catalog for a bounded time.
// It is constructed by the caller and shared by everything that needs the catalog.
type LanguageCache struct {
	entries *expirable.LRU[string, []Language]
	ttl     time.Duration
}

// NewLanguageCache creates a cache whose entries expire after ttl.
func NewLanguageCache(ttl time.Duration) *LanguageCache {
	if ttl <= 0 {
		ttl = defaultLanguageTTL
	}
	return &LanguageCache{
		entries: expirable.NewLRU[string, []Language](1, nil, ttl),
		ttl:     ttl,
	}
}

// TTL returns the configured lifetime.
func (c *LanguageCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached catalog if it has not expired.
func (c *LanguageCache) Get() ([]Language, bool) {
	return c.entries.Get(languageCacheKey)
}

// Set replaces the cached catalog.
func (c *LanguageCache) Set(languages []Language) {
	c.entries.Add(languageCacheKey, languages)
}

// Invalidate drops the catalog so the next read refetches it.
func (c *LanguageCache) Invalidate() {
	c.entries.Purge()
}
