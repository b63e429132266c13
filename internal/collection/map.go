package collection

import "sync"

// SyncMap is a minimal generic map guarded by a RWMutex. The transports use
// it to correlate in-flight request ids with their reply channels.
type SyncMap[K comparable, V any] struct {
	m   map[K]V
	mux sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{m: make(map[K]V)}
}

func (m *SyncMap[K, V]) Get(k K) (V, bool) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	v, ok := m.m[k]
	return v, ok
}

func (m *SyncMap[K, V]) Put(k K, v V) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.m[k] = v
}

// Remove deletes the key and returns the previous value, if any. A reply
// channel removed here is delivered to at most once.
func (m *SyncMap[K, V]) Remove(k K) (V, bool) {
	m.mux.Lock()
	defer m.mux.Unlock()
	v, ok := m.m[k]
	if ok {
		delete(m.m, k)
	}
	return v, ok
}

func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.mux.RLock()
	defer m.mux.RUnlock()
	for k, v := range m.m {
		if !f(k, v) {
			return
		}
	}
}
