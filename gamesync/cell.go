package gamesync

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Cell is a state container that suppresses subscriber notification when a
// value equal to the stored one is written. Snapshots arrive every poll cycle
// whether or not anything changed; without suppression every consumer would
// refresh on every tick.
//
// Equality is comparison of the JSON-serialized forms. Two values that
// serialize identically are treated as equal even if semantically distinct;
// all tracked values are plain serializable records, so this is acceptable.
// A value that fails to serialize always counts as changed.
type Cell[T any] struct {
	mu      sync.Mutex
	value   T
	set     bool
	encoded []byte
	subs    map[int]func(T)
	nextSub int
}

// NewCell returns an empty cell.
func NewCell[T any]() *Cell[T] {
	return &Cell[T]{subs: make(map[int]func(T))}
}

// Get returns the stored value, if any.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, c.set
}

// Set stores next and notifies subscribers, unless next is equal to the
// stored value, in which case it does nothing.
func (c *Cell[T]) Set(next T) {
	c.Update(func(T, bool) T { return next })
}

// Update resolves the next value from the previous one and stores it as Set
// does. The resolver runs under the cell lock and must not touch the cell.
func (c *Cell[T]) Update(resolve func(prev T, ok bool) T) {
	c.mu.Lock()
	next := resolve(c.value, c.set)

	encoded, err := json.Marshal(next)
	if err == nil && c.set && bytes.Equal(encoded, c.encoded) {
		c.mu.Unlock()
		return
	}

	c.value = next
	c.set = true
	c.encoded = encoded

	subs := make([]func(T), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// Subscribe registers fn to run on every effective write. It returns a cancel
// function; cancelling twice is safe. fn is not called for the current value.
func (c *Cell[T]) Subscribe(fn func(T)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}
