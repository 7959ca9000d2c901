// Package tenant resolves per-branch settings shared by the inactivity engine and its callers.
package tenant

import (
	"strings"
	"sync"
	"time"
)

// Locations resolves IANA timezone names to *time.Location, caching lookups.
// Unknown or empty names resolve to the fallback location.
type Locations struct {
	fallback *time.Location
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	items map[string]cacheItem
}

type cacheItem struct {
	loc       *time.Location
	expiresAt time.Time
}

// NewLocations builds a resolver. A nil fallback means UTC; ttl <= 0 caches forever.
func NewLocations(fallback *time.Location, ttl time.Duration) *Locations {
	if fallback == nil {
		fallback = time.UTC
	}
	return &Locations{fallback: fallback, ttl: ttl, now: time.Now, items: make(map[string]cacheItem)}
}

// Fallback returns the location used for branches without a valid timezone.
func (l *Locations) Fallback() *time.Location {
	if l == nil || l.fallback == nil {
		return time.UTC
	}
	return l.fallback
}

// Resolve returns the location for name, or the fallback when name is empty or unknown.
func (l *Locations) Resolve(name string) *time.Location {
	name = strings.TrimSpace(name)
	if l == nil || name == "" {
		return l.Fallback()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if item, ok := l.items[name]; ok && (l.ttl <= 0 || l.now().Before(item.expiresAt)) {
		return item.loc
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = l.fallback
	}
	l.items[name] = cacheItem{loc: loc, expiresAt: l.now().Add(l.ttl)}
	return loc
}

// ParseLocation loads name, treating an empty name as UTC. Used for configuration values.
func ParseLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
