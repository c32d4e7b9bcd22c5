package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// ID is a stable arena handle: the slot index plus the generation the slot had
// when it was handed out. A released and reacquired slot gets a new generation,
// so stale copies of the old ID are rejected.
type ID struct {
	Index      uint32
	Generation uint32
}

// InvalidID never refers to a live slot.
var InvalidID = ID{Index: ^uint32(0), Generation: 0}

func (id ID) IsValid() bool {
	return id.Generation != 0 && id.Index != InvalidID.Index
}

func (id ID) String() string {
	return fmt.Sprintf("%d#%d", id.Index, id.Generation)
}

type slot[T any] struct {
	generation uint32
	live       bool
	value      T
}

// Arena is a bounded slot allocator with index reuse. Released indices are
// kept on a free list and handed out again before the arena grows.
type Arena[T any] struct {
	capacity uint32
	slots    []slot[T]
	free     []uint32
}

func NewArena[T any](capacity uint32) *Arena[T] {
	return &Arena[T]{capacity: capacity}
}

// Acquire stores value in a free slot. Fails with ErrCapacityExceeded once
// capacity live entries exist.
func (a *Arena[T]) Acquire(value T) (ID, error) {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		if uint32(len(a.slots)) >= a.capacity {
			return InvalidID, errors.Wrapf(ErrCapacityExceeded, "arena is full (max=%d)", a.capacity)
		}
		index = uint32(len(a.slots))
		a.slots = append(a.slots, slot[T]{})
	}

	s := &a.slots[index]
	s.generation++
	if s.generation == 0 {
		// Generation 0 marks an invalid ID, skip it on wrap around.
		s.generation = 1
	}
	s.live = true
	s.value = value
	return ID{Index: index, Generation: s.generation}, nil
}

// Release frees the slot referenced by id.
func (a *Arena[T]) Release(id ID) error {
	s, err := a.lookup(id)
	if err != nil {
		return err
	}
	var zero T
	s.live = false
	s.value = zero
	a.free = append(a.free, id.Index)
	return nil
}

// Get returns a pointer to the value stored under id.
func (a *Arena[T]) Get(id ID) (*T, error) {
	s, err := a.lookup(id)
	if err != nil {
		return nil, err
	}
	return &s.value, nil
}

func (a *Arena[T]) Contains(id ID) bool {
	_, err := a.lookup(id)
	return err == nil
}

// Len is the number of live entries.
func (a *Arena[T]) Len() int {
	return len(a.slots) - len(a.free)
}

func (a *Arena[T]) Capacity() uint32 {
	return a.capacity
}

// Each visits every live entry in index order.
func (a *Arena[T]) Each(fn func(id ID, value *T)) {
	for i := range a.slots {
		if a.slots[i].live {
			fn(ID{Index: uint32(i), Generation: a.slots[i].generation}, &a.slots[i].value)
		}
	}
}

func (a *Arena[T]) lookup(id ID) (*slot[T], error) {
	if !id.IsValid() || id.Index >= uint32(len(a.slots)) {
		return nil, errors.Wrapf(ErrInvalidHandle, "id %s out of range", id)
	}
	s := &a.slots[id.Index]
	if !s.live || s.generation != id.Generation {
		return nil, errors.Wrapf(ErrInvalidHandle, "id %s is stale", id)
	}
	return s, nil
}
