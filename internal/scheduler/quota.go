package scheduler

import (
	"sync"
	"time"
)

// dailyQuota is the admission counter for model calls. The count resets on
// date rollover; the reset check runs on every access instead of a
// background timer, so behavior is deterministic under an injected clock.
type dailyQuota struct {
	mu    sync.Mutex
	limit int
	count int
	day   string
	now   func() time.Time
}

func newDailyQuota(limit int, now func() time.Time) *dailyQuota {
	if now == nil {
		now = time.Now
	}
	q := &dailyQuota{limit: limit, now: now}
	q.day = q.today()
	return q
}

func (q *dailyQuota) today() string {
	return q.now().Format("2006-01-02")
}

// rollover resets the count when the date has changed. Callers must hold mu.
func (q *dailyQuota) rollover() {
	if day := q.today(); day != q.day {
		q.day = day
		q.count = 0
	}
}

// Remaining reports how many calls are still admissible today. A
// non-positive limit means unlimited.
func (q *dailyQuota) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	if q.limit <= 0 {
		return int(^uint(0) >> 1)
	}
	if q.count >= q.limit {
		return 0
	}
	return q.limit - q.count
}

// Consume records n calls against today's count.
func (q *dailyQuota) Consume(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	q.count += n
}

// Used reports today's consumed count.
func (q *dailyQuota) Used() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover()
	return q.count
}
