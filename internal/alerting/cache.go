package alerting

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// dedupCache remembers recently dispatched alert keys for a TTL, holding at
// most maxEntries (oldest evicted first). A single mutex guards it; writes
// serialize, reads are short.
type dedupCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
	order   []string // insertion order for eviction
	now     func() time.Time
}

// snapshot is the on-disk shape of the cache, serialized with msgpack so a
// restart does not re-send recent alerts.
type snapshot struct {
	Keys    []string    `msgpack:"keys"`
	SentAt  []time.Time `msgpack:"sent_at"`
	SavedAt time.Time   `msgpack:"saved_at"`
}

func newDedupCache(ttl time.Duration, max int) *dedupCache {
	return &dedupCache{
		ttl:     ttl,
		max:     max,
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

// Contains reports whether key is live within the TTL. Expired entries are
// pruned on sight; nothing is recorded.
func (c *dedupCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	sent, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.now().Sub(sent) < c.ttl {
		return true
	}
	c.dropLocked(key)
	return false
}

// Remember records key as sent now. Re-remembering an existing key moves it
// to the back of the eviction order; the old order slot is released so the
// slice never carries two slots for one key.
func (c *dedupCache) Remember(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.entries[key]; ok {
		c.dropLocked(key)
	}
	c.entries[key] = now
	c.order = append(c.order, key)
	c.evictLocked(now)
}

// dropLocked removes key and its order slot.
func (c *dedupCache) dropLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops expired keys and then the oldest entries past capacity.
func (c *dedupCache) evictLocked(now time.Time) {
	kept := c.order[:0]
	for _, k := range c.order {
		sent, ok := c.entries[k]
		if !ok {
			continue
		}
		if now.Sub(sent) >= c.ttl {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept

	for len(c.entries) > c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// Len returns the number of live entries.
func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Save writes the cache to path.
func (c *dedupCache) Save(path string) error {
	c.mu.Lock()
	snap := snapshot{SavedAt: c.now()}
	for _, k := range c.order {
		if sent, ok := c.entries[k]; ok {
			snap.Keys = append(snap.Keys, k)
			snap.SentAt = append(snap.SentAt, sent)
		}
	}
	c.mu.Unlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode dedup snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write dedup snapshot: %w", err)
	}
	return nil
}

// Load restores entries from path, dropping keys already past the TTL. A
// missing file is not an error.
func (c *dedupCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dedup snapshot: %w", err)
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode dedup snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for i, k := range snap.Keys {
		if i >= len(snap.SentAt) {
			break
		}
		if now.Sub(snap.SentAt[i]) >= c.ttl {
			continue
		}
		if _, ok := c.entries[k]; !ok {
			c.entries[k] = snap.SentAt[i]
			c.order = append(c.order, k)
		}
	}
	c.evictLocked(now)
	return nil
}
