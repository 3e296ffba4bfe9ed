package repository

import "time"

// nullableTime maps a zero time to SQL NULL so filters can treat it as
// "no constraint".
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
