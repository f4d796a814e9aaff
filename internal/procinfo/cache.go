package procinfo

// IdentityResolver resolves a pid to its display identity.
type IdentityResolver interface {
	Resolve(pid int) Identity
}

// Cache memoizes identities by pid. A pid is resolved once when first seen
// and kept until it stops being reported. Not safe for concurrent use.
type Cache struct {
	resolver IdentityResolver
	entries  map[int]Identity
}

// NewCache creates an empty cache backed by resolver.
func NewCache(resolver IdentityResolver) *Cache {
	return &Cache{
		resolver: resolver,
		entries:  make(map[int]Identity),
	}
}

// Reconcile drops every entry whose pid is not in pids.
func (c *Cache) Reconcile(pids map[int]struct{}) {
	for pid := range c.entries {
		if _, ok := pids[pid]; !ok {
			delete(c.entries, pid)
		}
	}
}

// Get returns the cached identity for pid, resolving and storing it on a miss.
// The second result is true when the identity was served from the cache.
func (c *Cache) Get(pid int) (Identity, bool) {
	if id, ok := c.entries[pid]; ok {
		return id, true
	}
	id := c.resolver.Resolve(pid)
	c.entries[pid] = id
	return id, false
}

// Clear drops all entries.
func (c *Cache) Clear() {
	clear(c.entries)
}

// Len returns the number of cached pids.
func (c *Cache) Len() int {
	return len(c.entries)
}
