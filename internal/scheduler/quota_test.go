package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailyQuota(t *testing.T) {
	clock := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	q := newDailyQuota(3, func() time.Time { return clock })

	assert.Equal(t, 3, q.Remaining())

	q.Consume(2)
	assert.Equal(t, 1, q.Remaining())
	assert.Equal(t, 2, q.Used())

	q.Consume(1)
	assert.Equal(t, 0, q.Remaining())

	// Overconsumption from a racing caller never yields a negative count.
	q.Consume(1)
	assert.Equal(t, 0, q.Remaining())

	// Same day, later hour: no reset.
	clock = clock.Add(5 * time.Hour)
	assert.Equal(t, 0, q.Remaining())

	// Date rollover resets the count.
	clock = clock.Add(24 * time.Hour)
	assert.Equal(t, 3, q.Remaining())
	assert.Equal(t, 0, q.Used())
}

func TestDailyQuotaUnlimited(t *testing.T) {
	q := newDailyQuota(0, nil)
	q.Consume(1000000)
	assert.Greater(t, q.Remaining(), 1000000)
}
