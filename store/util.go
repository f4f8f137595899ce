package store

import (
	"time"
)

// retentionCutoff returns the local midnight that starts the oldest day a cache
// with ttlDays of retention keeps. Today counts as one of those days.
func retentionCutoff(now time.Time, ttlDays int32) time.Time {
	if ttlDays < 1 {
		ttlDays = 1
	}
	y, m, d := now.In(time.Local).Date()
	return time.Date(y, m, d-int(ttlDays-1), 0, 0, 0, 0, time.Local)
}
