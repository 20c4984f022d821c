package core

import "time"

// Clock supplies ledger time to the sequencer and to read-only views.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
