package models

// Time-series indices pack the record time and a sequence number so that
// natural index order equals time order:
//
//	seconds<<32 | millis<<22 | sequence
const (
	indexMillisShift = 22
	indexSecondShift = 32
	maxSequence      = 1<<indexMillisShift - 1
)

// TimeSeriesIndex composes an index from a time in epoch milliseconds and a
// sequence number within that millisecond.
func TimeSeriesIndex(timeMillis int64, sequence int32) int64 {
	secs := timeMillis / 1000
	millis := timeMillis % 1000
	if millis < 0 {
		secs--
		millis += 1000
	}
	return secs<<indexSecondShift | millis<<indexMillisShift | int64(sequence)&maxSequence
}

// IndexTime extracts the epoch milliseconds from a time-series index.
func IndexTime(index int64) int64 {
	return (index>>indexSecondShift)*1000 + (index>>indexMillisShift)&0x3ff
}

// IndexSequence extracts the sequence number from a time-series index.
func IndexSequence(index int64) int32 {
	return int32(index & maxSequence)
}
