package storage

import (
	"sync"
	"time"
)

// ValueType tags which variant of Value is populated.
type ValueType int

const (
	StringType ValueType = iota
	ListType
	StreamType
)

// Value is a tagged union over the three data types this store holds.
// Only the field matching Type is populated.
type Value struct {
	Type   ValueType
	Str    string
	List   *List
	Stream *Stream
}

// Store is the mutex-guarded, process-local key space. Every exported
// method acquires mu for its own duration; there are no read-only fast
// paths, since lazy expiration can mutate the map on any access.
type Store struct {
	mu     sync.Mutex
	data   map[string]*Value
	expiry map[string]time.Time
}

func NewStore() *Store {
	return &Store{
		data:   make(map[string]*Value),
		expiry: make(map[string]time.Time),
	}
}

// deleteKey removes a key from both the data and expiry maps. Caller must
// hold mu.
func (s *Store) deleteKey(key string) {
	delete(s.data, key)
	delete(s.expiry, key)
}

// expireIfDue deletes key if it has a TTL that has elapsed, using the
// monotonic reading carried on time.Now() values. Caller must hold mu.
// Returns true if the key is gone (either because it expired now or did
// not exist).
func (s *Store) expireIfDue(key string) bool {
	exp, hasTTL := s.expiry[key]
	if !hasTTL {
		_, exists := s.data[key]
		return !exists
	}
	if time.Now().After(exp) {
		s.deleteKey(key)
		return true
	}
	return false
}

// getLocked fetches key's Value after lazily expiring it. Caller must hold
// mu.
func (s *Store) getLocked(key string) (*Value, bool) {
	if s.expireIfDue(key) {
		return nil, false
	}
	v, ok := s.data[key]
	return v, ok
}

// TypeName reports the TYPE command's reply for key: "string", "list",
// "stream", or "none" if absent or expired.
func (s *Store) TypeName(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.getLocked(key)
	if !ok {
		return "none"
	}
	switch v.Type {
	case StringType:
		return "string"
	case ListType:
		return "list"
	case StreamType:
		return "stream"
	default:
		return "none"
	}
}
