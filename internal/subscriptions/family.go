package subscriptions

import "sync"

// family is a lazily populated map of per-user entries guarded by a RWMutex.
type family[S any] struct {
	mu      sync.RWMutex
	entries map[string]S
	create  func() S
}

func newFamily[S any](create func() S) *family[S] {
	return &family[S]{
		entries: make(map[string]S),
		create:  create,
	}
}

// get returns the entry for key (read-locked).
func (f *family[S]) get(key string) (S, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	s, ok := f.entries[key]
	return s, ok
}

// getOrCreate returns the entry for key, creating it if needed. created is
// true only for the caller that inserted the entry.
func (f *family[S]) getOrCreate(key string) (s S, created bool) {
	if s, ok := f.get(key); ok {
		return s, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// Another writer might have added it in the meantime.
	if s, ok := f.entries[key]; ok {
		return s, false
	}

	s = f.create()
	f.entries[key] = s
	return s, true
}

// len returns the number of entries (read-locked).
func (f *family[S]) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}
