package models

import (
	"math/bits"
	"strings"
)

// EventKind is a bitmask with one bit per record kind. A subscription may
// combine several bits; a snapshot always works on exactly one.
type EventKind uint32

const (
	KindQuote EventKind = 1 << iota
	KindTrade
	KindSummary
	KindProfile
	KindOrder
	KindSpreadOrder
	KindCandle
	KindTimeAndSale
	KindGreeks
	KindSeries
)

// KindAll covers every kind known to this build.
const KindAll = KindQuote | KindTrade | KindSummary | KindProfile | KindOrder |
	KindSpreadOrder | KindCandle | KindTimeAndSale | KindGreeks | KindSeries

// kindInfo is the static, build-time configuration of a record kind.
type kindInfo struct {
	name    string
	indexed bool // records carry a unique 64-bit Index
	history bool // subscriptions carry a time-series cursor
	sourced bool // records carry an order source
}

var kindTable = map[EventKind]kindInfo{
	KindQuote:       {name: "Quote"},
	KindTrade:       {name: "Trade"},
	KindSummary:     {name: "Summary"},
	KindProfile:     {name: "Profile"},
	KindOrder:       {name: "Order", indexed: true, sourced: true},
	KindSpreadOrder: {name: "SpreadOrder", indexed: true, sourced: true},
	KindCandle:      {name: "Candle", indexed: true, history: true},
	KindTimeAndSale: {name: "TimeAndSale", indexed: true, history: true},
	KindGreeks:      {name: "Greeks", indexed: true, history: true},
	KindSeries:      {name: "Series", indexed: true},
}

var kindByName = func() map[string]EventKind {
	m := make(map[string]EventKind, len(kindTable))
	for k, info := range kindTable {
		m[strings.ToLower(info.name)] = k
	}
	return m
}()

// KindByName resolves a kind from its name, case-insensitively.
func KindByName(name string) (EventKind, bool) {
	k, ok := kindByName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// IsSingle reports whether exactly one bit is set.
func (k EventKind) IsSingle() bool { return k != 0 && k&(k-1) == 0 }

// Has reports whether k and other share at least one bit.
func (k EventKind) Has(other EventKind) bool { return k&other != 0 }

// Known reports whether k is a single bit present in the kind table.
func (k EventKind) Known() bool {
	_, ok := kindTable[k]
	return ok
}

// Indexed reports whether records of this single kind carry a unique Index.
func (k EventKind) Indexed() bool { return kindTable[k].indexed }

// History reports whether this single kind is time-series bearing.
func (k EventKind) History() bool { return kindTable[k].history }

// Sourced reports whether records of this single kind carry an order source.
func (k EventKind) Sourced() bool { return kindTable[k].sourced }

// Each calls fn once for every bit set in the mask, lowest bit first.
func (k EventKind) Each(fn func(EventKind)) {
	for m := uint32(k); m != 0; m &= m - 1 {
		fn(EventKind(1) << bits.TrailingZeros32(m))
	}
}

// Kinds splits the mask into its single-bit kinds.
func (k EventKind) Kinds() []EventKind {
	out := make([]EventKind, 0, bits.OnesCount32(uint32(k)))
	k.Each(func(single EventKind) { out = append(out, single) })
	return out
}

func (k EventKind) String() string {
	if k == 0 {
		return "None"
	}
	if info, ok := kindTable[k]; ok {
		return info.name
	}
	names := make([]string, 0, 4)
	k.Each(func(single EventKind) {
		if info, ok := kindTable[single]; ok {
			names = append(names, info.name)
		} else {
			names = append(names, "Unknown")
		}
	})
	return strings.Join(names, "|")
}
