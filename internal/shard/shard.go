// Package shard maps account ids onto a fixed number of partitions so work for
// one account always lands on the same worker or lock.
package shard

import (
	"hash/fnv"
	"sync"
)

// Index returns the partition of key among n partitions
func Index(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Locks is a fixed set of mutexes striped by key
type Locks struct {
	stripes []sync.Mutex
}

// NewLocks creates n stripes
func NewLocks(n int) *Locks {
	if n < 1 {
		n = 1
	}
	return &Locks{stripes: make([]sync.Mutex, n)}
}

// Lock locks the stripe owning key and returns its unlock function
func (l *Locks) Lock(key string) func() {
	m := &l.stripes[Index(key, len(l.stripes))]
	m.Lock()
	return m.Unlock
}
