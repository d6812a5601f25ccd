package translation

import "time"

// Clock is the playback time base. Now is an offset from the clock's origin,
// like an audio context's currentTime.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type wallClock struct{ origin time.Time }

func NewWallClock() Clock { return wallClock{origin: time.Now()} }

func (c wallClock) Now() time.Duration { return time.Since(c.origin) }

func (c wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
