package unmta

import "sync"

// SharedStore is a server-wide key/value store shared by all plugins and
// sessions. It is safe for concurrent use.
type SharedStore struct {
	m sync.Map
}

// Get returns the value stored under key.
func (s *SharedStore) Get(key string) (any, bool) {
	return s.m.Load(key)
}

// Set stores value under key.
func (s *SharedStore) Set(key string, value any) {
	s.m.Store(key, value)
}

// Has reports whether key is present.
func (s *SharedStore) Has(key string) bool {
	_, ok := s.m.Load(key)
	return ok
}

// Delete removes key.
func (s *SharedStore) Delete(key string) {
	s.m.Delete(key)
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns value. loaded is true if the value was already there.
func (s *SharedStore) LoadOrStore(key string, value any) (actual any, loaded bool) {
	return s.m.LoadOrStore(key, value)
}
