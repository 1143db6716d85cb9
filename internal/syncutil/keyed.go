// Package syncutil provides bounded per-key locking.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const defaultShards = 256

// KeyedMutex serializes work per string key using a fixed pool of
// channel-backed locks, so memory stays bounded however many keys are
// seen. Distinct keys may share a shard and then contend with each other.
// The zero value is ready to use.
type KeyedMutex struct {
	once   sync.Once
	shards []chan struct{}
}

// NewKeyedMutex returns a KeyedMutex with n shards (256 if n <= 0).
func NewKeyedMutex(n int) *KeyedMutex {
	m := &KeyedMutex{}
	m.init(n)
	return m
}

func (m *KeyedMutex) init(n int) {
	m.once.Do(func() {
		if n <= 0 {
			n = defaultShards
		}
		m.shards = make([]chan struct{}, n)
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
		}
	})
}

func (m *KeyedMutex) shard(key string) chan struct{} {
	m.init(0)
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%uint32(len(m.shards))]
}

// Lock blocks until key is held and returns its unlock function.
func (m *KeyedMutex) Lock(key string) func() {
	ch := m.shard(key)
	ch <- struct{}{}
	return func() { <-ch }
}

// LockContext is Lock that gives up when ctx is done. On error the lock is
// not held and no unlock function is returned.
func (m *KeyedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	ch := m.shard(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
