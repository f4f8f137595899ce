package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetentionCutoff(t *testing.T) {
	now := time.Date(2024, 3, 20, 15, 4, 5, 0, time.Local)
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.Local), retentionCutoff(now, 1))
	assert.Equal(t, time.Date(2024, 3, 20, 0, 0, 0, 0, time.Local), retentionCutoff(now, 0))
	assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.Local), retentionCutoff(now, 7))
	// across a leap month boundary
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.Local), retentionCutoff(now, 21))
}
