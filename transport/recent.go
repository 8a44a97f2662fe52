package transport

import "sync"

// recentCache is a small fixed-capacity ring of frame digests, the
// same shape as a rolling screen buffer: a mutex-guarded slice with a
// hard cap and oldest-eviction. It is used on both the send and
// receive paths to let higher layers ask "have I seen this frame
// recently" without keeping full frame bodies around.
type recentCache struct {
	mu   sync.Mutex
	keys []string
	max  int
}

func newRecentCache(max int) *recentCache {
	return &recentCache{max: max}
}

// digest keys a frame by its first and last 4 bytes, which is cheap
// and collision-resistant enough for duplicate-send detection on a
// single connection (not a cryptographic fingerprint).
func digest(frame []byte) string {
	var head, tail [4]byte
	n := len(frame)
	for i := 0; i < 4 && i < n; i++ {
		head[i] = frame[i]
	}
	for i := 0; i < 4 && i < n; i++ {
		tail[i] = frame[n-1-i]
	}
	return string(head[:]) + string(tail[:])
}

// Add records frame's digest, evicting the oldest entry if the cache
// is at capacity.
func (c *recentCache) Add(frame []byte) {
	if c.max <= 0 {
		return
	}
	key := digest(frame)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = append(c.keys, key)
	if len(c.keys) > c.max {
		excess := len(c.keys) - c.max
		c.keys = append(c.keys[:0], c.keys[excess:]...)
	}
}

// Contains reports whether frame's digest was recently recorded.
func (c *recentCache) Contains(frame []byte) bool {
	key := digest(frame)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.keys {
		if k == key {
			return true
		}
	}
	return false
}
