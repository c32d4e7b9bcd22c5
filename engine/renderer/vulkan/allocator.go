package vulkan

import (
	"sort"
	"sync"

	"github.com/spaghettifunk/prism/engine/core"
)

type allocation struct {
	size uint64
	tag  string
}

// NativeAllocator keeps a ledger of the memory the backend asks the driver
// for. Every device memory allocation and mapped range made by a buffer or
// image is tracked by its handle, so a leak shows up as a Count that does not
// return to its baseline.
type NativeAllocator struct {
	mu      sync.Mutex
	entries map[uint64]allocation
	total   uint64
}

func NewNativeAllocator() *NativeAllocator {
	return &NativeAllocator{entries: make(map[uint64]allocation)}
}

// Track records size bytes under key. Tracking a key twice replaces the entry.
func (a *NativeAllocator) Track(key uint64, size uint64, tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if old, ok := a.entries[key]; ok {
		core.LogWarn("allocator: key %#x tracked twice (%s, %s)", key, old.tag, tag)
		a.total -= old.size
	}
	a.entries[key] = allocation{size: size, tag: tag}
	a.total += size
}

// Retrack moves the entry for oldKey to newKey with a new size, keeping its tag.
func (a *NativeAllocator) Retrack(oldKey, newKey uint64, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.entries[oldKey]
	if !ok {
		core.LogWarn("allocator: retrack of unknown key %#x", oldKey)
		old.tag = "untracked"
	} else {
		delete(a.entries, oldKey)
		a.total -= old.size
	}
	a.entries[newKey] = allocation{size: size, tag: old.tag}
	a.total += size
}

func (a *NativeAllocator) Untrack(key uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	old, ok := a.entries[key]
	if !ok {
		core.LogWarn("allocator: untrack of unknown key %#x", key)
		return
	}
	delete(a.entries, key)
	a.total -= old.size
}

// SizeOf returns the tracked size of key, 0 when unknown.
func (a *NativeAllocator) SizeOf(key uint64) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[key].size
}

func (a *NativeAllocator) TotalBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *NativeAllocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// Report logs the totals per tag and returns them.
func (a *NativeAllocator) Report() map[string]uint64 {
	a.mu.Lock()
	perTag := make(map[string]uint64)
	for _, e := range a.entries {
		perTag[e.tag] += e.size
	}
	total, count := a.total, len(a.entries)
	a.mu.Unlock()

	tags := make([]string, 0, len(perTag))
	for tag := range perTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	core.LogDebug("allocator: %d allocations, %d bytes", count, total)
	for _, tag := range tags {
		core.LogDebug("allocator:   %-16s %d bytes", tag, perTag[tag])
	}
	return perTag
}
