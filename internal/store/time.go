package store

import "time"

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

// NowUnixMilli returns the current time as Unix milliseconds. Exported so
// other packages in the module share one clock source instead of calling
// time.Now() ad hoc.
func NowUnixMilli() int64 {
	return nowUnixMilli()
}
