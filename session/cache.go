package session

import "sync"

// Cache maps user ids to session records. Each Engine owns its own Cache.
type Cache struct {
	mu      sync.RWMutex
	records map[string]Record
}

func newCache() *Cache {
	return &Cache{records: make(map[string]Record)}
}

func (c *Cache) get(userID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.records[userID]
	return r, ok
}

func (c *Cache) put(userID string, r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[userID] = r
}

func (c *Cache) delete(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, userID)
}

// deleteIf removes the entry for userID only if it still equals r. It
// reports whether it removed anything.
func (c *Cache) deleteIf(userID string, r Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.records[userID]; ok && cur == r {
		delete(c.records, userID)
		return true
	}
	return false
}

// replace swaps the whole content, used when loading from the store.
func (c *Cache) replace(records map[string]Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = records
}

// expired returns the user ids whose records have expired at nowMillis.
func (c *Cache) expired(nowMillis int64) map[string]Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Record)
	for id, r := range c.records {
		if r.expired(nowMillis) {
			out[id] = r
		}
	}
	return out
}

func (c *Cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}
