package subscription

import (
	"encoding/binary"

	"mdfeed/models"
)

// TimeBound derives the resubscription time for one record kind from a
// subscription's time cursor. History kinds get the cursor, clamped at
// zero; every other kind gets models.NoTime.
func TimeBound(kind models.EventKind, cursor int64) int64 {
	if !kind.History() {
		return models.NoTime
	}
	if cursor < 0 {
		return 0
	}
	return cursor
}

// EncodeTimeBound returns the 8-byte big-endian wire form of a time bound.
func EncodeTimeBound(bound int64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(bound))
	return b
}

// DecodeTimeBound is the inverse of EncodeTimeBound.
func DecodeTimeBound(b [8]byte) int64 {
	return int64(binary.BigEndian.Uint64(b[:]))
}
