// Package lock provides per-subject mutual exclusion between request-driven
// mutations and the retention sweep.
//
// Lock waits for the key; TryLock returns immediately so the sweep can skip
// a busy subject and retry on its next pass.
package lock

import (
	"context"
	"sync"

	dErrors "privacy/pkg/domain-errors"
)

// Unlock releases a held key. It is safe to call more than once.
type Unlock func()

type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
	TryLock(ctx context.Context, key string) (Unlock, bool, error)
}

// numShards spreads keys over independent mutexes so unrelated subjects do
// not contend on a single map lock.
const numShards = 128

type shard struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// KeyedMutex is the in-process Locker.
type KeyedMutex struct {
	shards [numShards]shard
}

func NewKeyedMutex() *KeyedMutex {
	k := &KeyedMutex{}
	for i := range k.shards {
		k.shards[i].held = make(map[string]chan struct{})
	}
	return k
}

func (k *KeyedMutex) shardFor(key string) *shard {
	return &k.shards[hashKey(key)%numShards]
}

// hashKey is FNV-1a.
func hashKey(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	sh := k.shardFor(key)
	for {
		sh.mu.Lock()
		wait, busy := sh.held[key]
		if !busy {
			sh.held[key] = make(chan struct{})
			sh.mu.Unlock()
			return k.release(sh, key), nil
		}
		sh.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "timed out waiting for lock on "+key)
		}
	}
}

func (k *KeyedMutex) TryLock(_ context.Context, key string) (Unlock, bool, error) {
	sh := k.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, busy := sh.held[key]; busy {
		return nil, false, nil
	}
	sh.held[key] = make(chan struct{})
	return k.release(sh, key), true, nil
}

func (k *KeyedMutex) release(sh *shard, key string) Unlock {
	var once sync.Once
	return func() {
		once.Do(func() {
			sh.mu.Lock()
			ch := sh.held[key]
			delete(sh.held, key)
			sh.mu.Unlock()
			close(ch)
		})
	}
}
