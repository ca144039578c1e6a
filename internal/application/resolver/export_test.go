package resolver

import "time"

// SetClock overrides the service clock used for timestamps and expiry.
func SetClock(s *Service, now func() time.Time) {
	s.now = now
	s.evaluator.now = now
}
