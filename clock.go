package sitecache

import "time"

// Clock provides the current time to the manager.
// The default implementation uses time.Now().
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}
