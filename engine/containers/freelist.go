package containers

import "sort"

type freeBlock struct {
	offset uint64
	size   uint64
}

// FreeList hands out byte ranges of a fixed size region, first fit. Released
// ranges are merged with their free neighbours.
type FreeList struct {
	total  uint64
	blocks []freeBlock
}

func NewFreeList(total uint64) *FreeList {
	f := &FreeList{total: total}
	if total > 0 {
		f.blocks = []freeBlock{{offset: 0, size: total}}
	}
	return f
}

// Allocate reserves size bytes and returns their offset. It reports false
// when no free block is large enough.
func (f *FreeList) Allocate(size uint64) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	for i, b := range f.blocks {
		if b.size < size {
			continue
		}
		offset := b.offset
		if b.size == size {
			f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
		} else {
			f.blocks[i] = freeBlock{offset: b.offset + size, size: b.size - size}
		}
		return offset, true
	}
	return 0, false
}

// Free returns a range obtained from Allocate. It reports false when the
// range is outside the region or overlaps free space.
func (f *FreeList) Free(offset, size uint64) bool {
	if size == 0 || offset+size > f.total {
		return false
	}
	i := sort.Search(len(f.blocks), func(i int) bool { return f.blocks[i].offset >= offset })
	if i > 0 {
		prev := f.blocks[i-1]
		if prev.offset+prev.size > offset {
			return false
		}
	}
	if i < len(f.blocks) && offset+size > f.blocks[i].offset {
		return false
	}

	f.blocks = append(f.blocks, freeBlock{})
	copy(f.blocks[i+1:], f.blocks[i:])
	f.blocks[i] = freeBlock{offset: offset, size: size}

	// Merge with the next block, then with the previous one.
	if i+1 < len(f.blocks) && f.blocks[i].offset+f.blocks[i].size == f.blocks[i+1].offset {
		f.blocks[i].size += f.blocks[i+1].size
		f.blocks = append(f.blocks[:i+1], f.blocks[i+2:]...)
	}
	if i > 0 && f.blocks[i-1].offset+f.blocks[i-1].size == f.blocks[i].offset {
		f.blocks[i-1].size += f.blocks[i].size
		f.blocks = append(f.blocks[:i], f.blocks[i+1:]...)
	}
	return true
}

// Resize grows the region. Shrinking is not supported.
func (f *FreeList) Resize(total uint64) bool {
	if total < f.total {
		return false
	}
	grown := total - f.total
	if grown > 0 {
		old := f.total
		f.total = total
		f.Free(old, grown)
	}
	return true
}

// FreeSpace is the number of bytes not handed out.
func (f *FreeList) FreeSpace() uint64 {
	var n uint64
	for _, b := range f.blocks {
		n += b.size
	}
	return n
}

func (f *FreeList) Total() uint64 {
	return f.total
}
