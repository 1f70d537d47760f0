// Package window implements pure time-window bucket math for velocity counters
package window

import (
	"fmt"
	"time"
)

// Label identifies a recognized trailing window
type Label string

const (
	Min1  Label = "1m"
	Min5  Label = "5m"
	Min15 Label = "15m"
	Hour1 Label = "1h"
	Day1  Label = "1d"
)

// All lists the recognized windows in ascending duration order
var All = []Label{Min1, Min5, Min15, Hour1, Day1}

var durations = map[Label]time.Duration{
	Min1:  60_000 * time.Millisecond,
	Min5:  300_000 * time.Millisecond,
	Min15: 900_000 * time.Millisecond,
	Hour1: 3_600_000 * time.Millisecond,
	Day1:  86_400_000 * time.Millisecond,
}

// DefaultFanOut is the per-window bucket count B; approximation error is
// bounded by duration/B.
const DefaultFanOut = 10

// Duration returns the trailing duration of a window.
// Panics on an unrecognized label: requesting an unknown window is a defect
// in the calling code, not a runtime condition.
func Duration(l Label) time.Duration {
	d, ok := durations[l]
	if !ok {
		panic(fmt.Sprintf("window: unrecognized label %q", l))
	}
	return d
}

// Codec maps instants to bucket identifiers for a fixed fan-out
type Codec struct {
	fanOut int64
}

// NewCodec creates a codec with the given bucket fan-out (<=0 uses DefaultFanOut)
func NewCodec(fanOut int) Codec {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return Codec{fanOut: int64(fanOut)}
}

// FanOut returns the configured bucket count per window
func (c Codec) FanOut() int {
	return int(c.fanOut)
}

// BucketSize returns the bucket granularity for a window
func (c Codec) BucketSize(l Label) time.Duration {
	return Duration(l) / time.Duration(c.fanOut)
}

// BucketID returns the active bucket identifier for instant t within window l:
// floor(t / bucketSize). Stable for identical inputs.
func (c Codec) BucketID(t time.Time, l Label) int64 {
	size := c.BucketSize(l).Milliseconds()
	ms := t.UnixMilli()
	if ms >= 0 {
		return ms / size
	}
	// Floor division for pre-epoch instants.
	return (ms - size + 1) / size
}

// BucketStart returns the start instant of a bucket
func (c Codec) BucketStart(id int64, l Label) time.Time {
	return time.UnixMilli(id * c.BucketSize(l).Milliseconds()).UTC()
}

// Expired reports whether a bucket has aged out of its window relative to now
func (c Codec) Expired(id int64, l Label, now time.Time) bool {
	return now.Sub(c.BucketStart(id, l)) > Duration(l)
}
