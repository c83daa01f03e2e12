package coremqtt

import (
	"time"
)

// GetTimeFunc returns the current time in milliseconds. The zero point is
// arbitrary and the value may wrap around; the engine only ever subtracts
// two readings.
type GetTimeFunc func() uint32

// MonotonicClock returns a GetTimeFunc counting milliseconds since the call,
// backed by the monotonic clock.
func MonotonicClock() GetTimeFunc {
	start := time.Now()

	return func() uint32 {
		return uint32(time.Since(start).Milliseconds())
	}
}

// calculateElapsedTime returns later - start modulo 2^32, which is correct
// across one wraparound of the clock.
func calculateElapsedTime(later, start uint32) uint32 {
	return later - start
}
