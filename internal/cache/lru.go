package cache

import (
	"container/list"
	"sync"
)

// memEntry is one value tracked by the in-memory LRU.
type memEntry struct {
	key  string
	body []byte
	size int64
}

// lru is a byte-budgeted, size-tracked least-recently-used cache. A single
// mutex guards it, matching spec.md §5's "single mutex per cache, critical
// section bounded to map ops" discipline.
type lru struct {
	mu       sync.Mutex
	budget   int64
	size     int64
	ll       *list.List
	elements map[string]*list.Element
}

func newLRU(budgetBytes int64) *lru {
	return &lru{
		budget:   budgetBytes,
		ll:       list.New(),
		elements: make(map[string]*list.Element),
	}
}

// get returns the cached body and moves it to the front (most recently
// used position). ok is false on a miss.
func (c *lru) get(key string) (body []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.elements[key]
	if !found {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*memEntry).body, true
}

// put inserts or replaces key, evicting least-recently-used entries
// (including, if necessary, the entry just inserted) until the byte
// budget is satisfied. This keeps sizeBytes() <= budget an invariant even
// for a single entry larger than the whole budget; the disk and index
// tiers still hold it, memory just won't.
func (c *lru) put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(body))

	if el, found := c.elements[key]; found {
		old := el.Value.(*memEntry)
		c.size -= old.size
		el.Value = &memEntry{key: key, body: body, size: size}
		c.size += size
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&memEntry{key: key, body: body, size: size})
		c.elements[key] = el
		c.size += size
	}

	for c.size > c.budget && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *lru) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*memEntry)
	c.ll.Remove(el)
	delete(c.elements, entry.key)
	c.size -= entry.size
}

func (c *lru) delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, found := c.elements[key]; found {
		entry := el.Value.(*memEntry)
		c.ll.Remove(el)
		delete(c.elements, entry.key)
		c.size -= entry.size
	}
}

func (c *lru) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.elements = make(map[string]*list.Element)
	c.size = 0
}

func (c *lru) sizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *lru) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
