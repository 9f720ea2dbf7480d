package network

import (
	"time"

	"golang.org/x/time/rate"
)

// throttle は前回の送信窓の開始時刻から period 経つまで送信を捨てる
// バーストは許さない (burst 1)
type throttle struct {
	limiter *rate.Limiter
	period  time.Duration
	last    time.Time
	now     func() time.Time
}

func newThrottle(period time.Duration, now func() time.Time) *throttle {
	t := &throttle{period: period, now: now}
	t.reset(now())
	return t
}

// reset は at を窓の開始時刻としてリミッタを作り直す
func (t *throttle) reset(at time.Time) {
	t.limiter = rate.NewLimiter(limitFor(t.period), 1)
	t.limiter.AllowN(at, 1)
	t.last = at
}

func (t *throttle) allow() bool {
	now := t.now()
	if !t.limiter.AllowN(now, 1) {
		return false
	}
	t.last = now
	return true
}

// setPeriod は新しい周期を前回の窓の開始時刻から適用する
func (t *throttle) setPeriod(period time.Duration) {
	t.period = period
	t.reset(t.last)
}

func limitFor(period time.Duration) rate.Limit {
	if period <= 0 {
		return rate.Inf
	}
	return rate.Every(period)
}
