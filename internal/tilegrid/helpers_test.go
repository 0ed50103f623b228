package tilegrid

import "time"

func day(n int) time.Time {
	return time.Date(2017, time.August, n, 12, 0, 0, 0, time.UTC)
}
