package session

import (
	"maps"
	"sync"

	"github.com/vedran77/vetchat/internal/domain"
)

// ProfileCache holds display profiles for the lifetime of one signed-in
// session. Entries are added or overwritten, never removed.
type ProfileCache struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

func NewProfileCache() *ProfileCache {
	return &ProfileCache{profiles: make(map[string]domain.Profile)}
}

func (c *ProfileCache) Get(id string) (domain.Profile, bool) {
	if c == nil {
		return domain.Profile{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	return p, ok
}

func (c *ProfileCache) Has(id string) bool {
	_, ok := c.Get(id)
	return ok
}

func (c *ProfileCache) Put(p domain.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profiles[p.ID] = p
}

func (c *ProfileCache) PutAll(profiles map[string]domain.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.profiles, profiles)
}

func (c *ProfileCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

// All returns a copy of every cached profile.
func (c *ProfileCache) All() map[string]domain.Profile {
	if c == nil {
		return map[string]domain.Profile{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.profiles)
}
