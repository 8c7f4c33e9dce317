package ratelimit

import (
	"fmt"
	"time"
)

// window is one fixed counting window.
type window struct {
	startMs  int64
	lengthMs int64
	end      time.Time
}

func newWindow(now time.Time, length time.Duration) window {
	lengthMs := length.Milliseconds()
	if lengthMs <= 0 {
		lengthMs = 1
	}
	startMs := now.UnixMilli() / lengthMs * lengthMs
	return window{
		startMs:  startMs,
		lengthMs: lengthMs,
		end:      time.UnixMilli(startMs + lengthMs),
	}
}

func (w window) key(tier Tier, key string) string {
	return fmt.Sprintf("rl:%s:%s:%d", tier, key, w.startMs)
}

func (w window) burstKey(tier Tier, key string) string {
	return fmt.Sprintf("rl:%s:%s:%d:burst", tier, key, w.startMs)
}

// emergencyKey is shared by every key of a tier with the same window length.
func (w window) emergencyKey(tier Tier) string {
	return fmt.Sprintf("rl:emergency:%s:%d:%d", tier, w.lengthMs, w.startMs)
}
