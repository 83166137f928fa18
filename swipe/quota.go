package swipe

import (
	"sync"
	"time"

	"github.com/pegaoupassa/swipe-core/api"
)

// DefaultDailyLimit is the number of free likes per day for non-VIP users.
const DefaultDailyLimit = 30

// Quota is the daily like counter. It is the only writer of the count.
type Quota struct {
	mu      sync.Mutex
	limit   int
	count   int
	resetAt time.Time
	vip     bool
}

// NewQuota returns an empty counter with the given daily limit.
func NewQuota(limit int) *Quota {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Quota{limit: limit}
}

// Sync loads the server-provided counter.
func (q *Quota) Sync(s api.Quota) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.count = s.Count
	q.resetAt = s.ResetAt
	q.vip = s.IsVIP
}

// SetVIP updates the VIP flag, e.g. after a purchase.
func (q *Quota) SetVIP(vip bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.vip = vip
}

// TryConsume checks the gate and takes one like in a single step. It reports
// false, leaving the count untouched, when the daily limit is reached and the
// user is not VIP.
func (q *Quota) TryConsume(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.rollover(now)
	if q.count >= q.limit && !q.vip {
		return false
	}
	q.count++
	return true
}

// Snapshot returns the counter as seen at now.
func (q *Quota) Snapshot(now time.Time) api.Quota {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rollover(now)
	return api.Quota{Count: q.count, ResetAt: q.resetAt, IsVIP: q.vip}
}

// Remaining reports how many free likes are left at now. VIP users get -1.
func (q *Quota) Remaining(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.vip {
		return -1
	}
	q.rollover(now)
	if q.count >= q.limit {
		return 0
	}
	return q.limit - q.count
}

// rollover zeroes the counter once the server-provided reset time passed.
// The next reset time is unknown until the next Sync.
func (q *Quota) rollover(now time.Time) {
	if q.resetAt.IsZero() || now.Before(q.resetAt) {
		return
	}
	q.count = 0
	q.resetAt = time.Time{}
}
