// Package store holds each node's view of the herd's clients: the most
// recent report seen per client identity. Conflict resolution is
// newest-wins on the client-supplied timestamp, with a strict greater-
// than rule so equal-timestamp replays are dropped. This staleness
// check is what terminates flooding; there are no TTLs or dedup IDs.
package store

import "sync"

// Record is the latest accepted report for one client.
type Record struct {
	Time        float64
	Coordinates string
	// Line is the exact canonical AT message, re-emitted verbatim when
	// propagating or answering queries.
	Line string
}

// Store is an in-memory client->Record map, safe for concurrent use.
// Records are never deleted; the map is bounded by the number of
// distinct clients ever seen.
type Store struct {
	mu   sync.RWMutex
	data map[string]Record
}

func New() *Store {
	return &Store{data: make(map[string]Record)}
}

// Latest returns the stored record for a client, if any.
func (s *Store) Latest(client string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[client]
	return rec, ok
}

// TryApply installs rec for client only when no record exists or rec
// is strictly newer than the stored one. It reports whether the record
// was installed; false means the update was stale and must not be
// propagated. The check-and-set is atomic, so two concurrent updates
// for the same client cannot both be judged fresh.
func (s *Store) TryApply(client string, rec Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.data[client]; ok && rec.Time <= old.Time {
		return false
	}
	s.data[client] = rec
	return true
}

// Apply installs rec unconditionally. Used for locally originated
// reports, which overwrite whatever the node held for that client.
func (s *Store) Apply(client string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[client] = rec
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
