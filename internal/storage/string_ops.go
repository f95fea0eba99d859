package storage

import (
	"strconv"
	"time"
)

// Set stores a string value at key, clearing any previous TTL.
func (s *Store) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &Value{Type: StringType, Str: value}
	delete(s.expiry, key)
}

// SetWithTTL stores a string value at key that lazily expires at expiresAt.
func (s *Store) SetWithTTL(key, value string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = &Value{Type: StringType, Str: value}
	s.expiry[key] = expiresAt
}

// Get returns the string stored at key. ok is false if the key is absent
// or expired; a key holding a non-string value yields a WRONGTYPE
// StoreError.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.getLocked(key)
	if !ok {
		return "", false, nil
	}
	if v.Type != StringType {
		return "", false, newWrongType()
	}
	return v.Str, true, nil
}

// Incr adds delta to the integer value at key (default "0" if absent) and
// stores the result back as its canonical decimal string.
func (s *Store) Incr(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.getLocked(key)
	var current int64
	if ok {
		if v.Type != StringType {
			return 0, newWrongType()
		}
		parsed, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return 0, newNotInteger()
		}
		current = parsed
	}

	next := current + delta
	s.data[key] = &Value{Type: StringType, Str: strconv.FormatInt(next, 10)}
	delete(s.expiry, key)
	return next, nil
}
