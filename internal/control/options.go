package control

import (
	"time"

	"baas/internal/types"
)

// ClickOptions controls one Click call.
type ClickOptions struct {
	// Count is the number of taps, at least 1.
	Count  int
	Jitter JitterSpec
	// Interval separates consecutive taps and is ignored for a single tap.
	Interval time.Duration
	// PreWait runs before the first tap, PostWait after the last.
	PreWait  time.Duration
	PostWait time.Duration
	// Label is only logged.
	Label string
}

var defaultJitter = JitterSpec{Kind: JitterRectangle, Magnitude: 5}

// DefaultClickOptions is one tap with 5px rectangular jitter and no waits.
func DefaultClickOptions() ClickOptions {
	return ClickOptions{
		Count:  1,
		Jitter: defaultJitter,
	}
}

// DefaultLongClickJitter is the jitter LongClick callers use unless they
// pick their own: 5px rectangular, as for clicks.
func DefaultLongClickJitter() JitterSpec { return defaultJitter }

func (o ClickOptions) validate() error {
	if o.Count < 1 {
		return types.Configurationf("control: click", "tap count %d < 1", o.Count)
	}
	if o.Interval < 0 || o.PreWait < 0 || o.PostWait < 0 {
		return types.Configurationf("control: click", "negative wait")
	}
	return o.Jitter.validate()
}

// SwipeOptions jitters the two ends of a swipe independently.
type SwipeOptions struct {
	StartJitter JitterSpec
	EndJitter   JitterSpec
}

func DefaultSwipeOptions() SwipeOptions {
	return SwipeOptions{StartJitter: defaultJitter, EndJitter: defaultJitter}
}
