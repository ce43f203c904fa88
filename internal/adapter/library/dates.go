package library

import (
	"strconv"
	"time"
)

// earliestDate is the start-bound default when no date filter is given.
const earliestDate = "19000101"

// nowFunc is read on every call so tests can freeze time.
var nowFunc = time.Now

// NormalizeDateBound converts a year (YYYY) or full date (YYYYMMDD) into a
// canonical YYYYMMDD bound for the discovery API. A nil or malformed value
// falls back to the open-interval default for its side: the distant past for
// a start bound, today for an end bound. It never fails.
func NormalizeDateBound(value *int, isStart bool) string {
	if value == nil {
		return defaultBound(isStart)
	}

	s := strconv.Itoa(*value)
	switch len(s) {
	case 4:
		if isStart {
			return s + "0101"
		}
		return s + "1231"
	case 8:
		return s
	default:
		return defaultBound(isStart)
	}
}

func defaultBound(isStart bool) string {
	if isStart {
		return earliestDate
	}
	return nowFunc().Format("20060102")
}
