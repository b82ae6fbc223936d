package models

import (
	"math"
	"strings"
)

// EventFlags are carried per batch and apply to every record in it.
type EventFlags uint32

const (
	TxPending     EventFlags = 0x01
	RemoveEvent   EventFlags = 0x02
	SnapshotBegin EventFlags = 0x04
	SnapshotEnd   EventFlags = 0x08
	SnapshotSnip  EventFlags = 0x10
	RemoveSymbol  EventFlags = 0x20
)

// Has reports whether every bit of f2 is set in f.
func (f EventFlags) Has(f2 EventFlags) bool { return f&f2 == f2 }

func (f EventFlags) String() string {
	if f == 0 {
		return "0"
	}
	names := []struct {
		flag EventFlags
		name string
	}{
		{TxPending, "TX_PENDING"},
		{RemoveEvent, "REMOVE_EVENT"},
		{SnapshotBegin, "SNAPSHOT_BEGIN"},
		{SnapshotEnd, "SNAPSHOT_END"},
		{SnapshotSnip, "SNAPSHOT_SNIP"},
		{RemoveSymbol, "REMOVE_SYMBOL"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// EventParams are the transactional parameters of one decoded batch.
// RecordTime is only meaningful when HasTime is set and is used solely to
// seed the time cursor of history-bearing subscriptions.
type EventParams struct {
	Flags       EventFlags `json:"flags"`
	RecordTime  int64      `json:"record_time"`
	HasTime     bool       `json:"has_time"`
	SnapshotKey uint64     `json:"snapshot_key"`
}

// NoTime is the time bound sent for kinds that carry no time-series cursor.
const NoTime int64 = math.MinInt64
