package storage

import "time"

// SetClock overrides the lease clock of a store.
func SetClock(store any, now func() time.Time) {
	switch s := store.(type) {
	case *MemoryStore:
		s.now = now
	case *SQLiteStore:
		s.now = now
	case *BoltStore:
		s.now = now
	}
}
