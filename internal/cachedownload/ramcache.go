package cachedownload

import "container/list"

// Entry is one cached object.
type Entry struct {
	Fingerprint string
	URL         string
	Bytes       []byte
	Size        int64
}

// RamCache is a FIFO ordered map fingerprint->entry, evicting the oldest
// entry until the total size fits within capacity (§4.8).
type RamCache struct {
	capacity int64
	size     int64
	order    *list.List // front = oldest
	index    map[string]*list.Element
}

func NewRamCache(capacityBytes int64) *RamCache {
	return &RamCache{
		capacity: capacityBytes,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns the entry for fingerprint, if present.
func (c *RamCache) Get(fingerprint string) (Entry, bool) {
	el, ok := c.index[fingerprint]
	if !ok {
		return Entry{}, false
	}
	return el.Value.(Entry), true
}

// Put inserts an entry, evicting the oldest entries until the cache fits
// within capacity. Returns the entries evicted to make room, for the
// caller to spill to the file cache.
func (c *RamCache) Put(e Entry) []Entry {
	if existing, ok := c.index[e.Fingerprint]; ok {
		c.size -= existing.Value.(Entry).Size
		c.order.Remove(existing)
		delete(c.index, e.Fingerprint)
	}

	el := c.order.PushBack(e)
	c.index[e.Fingerprint] = el
	c.size += e.Size

	var evicted []Entry
	for c.size > c.capacity && c.order.Len() > 0 {
		front := c.order.Front()
		oldest := front.Value.(Entry)
		c.order.Remove(front)
		delete(c.index, oldest.Fingerprint)
		c.size -= oldest.Size
		evicted = append(evicted, oldest)
	}
	return evicted
}

// SetCapacity updates the byte capacity, evicting immediately if the new
// capacity is smaller than the current size.
func (c *RamCache) SetCapacity(bytes int64) []Entry {
	c.capacity = bytes
	var evicted []Entry
	for c.size > c.capacity && c.order.Len() > 0 {
		front := c.order.Front()
		oldest := front.Value.(Entry)
		c.order.Remove(front)
		delete(c.index, oldest.Fingerprint)
		c.size -= oldest.Size
		evicted = append(evicted, oldest)
	}
	return evicted
}

// Size returns total cached bytes.
func (c *RamCache) Size() int64 { return c.size }

// Len returns the number of cached entries.
func (c *RamCache) Len() int { return c.order.Len() }
