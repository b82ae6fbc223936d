package models

import (
	"encoding/json"
	"testing"
)

func TestKindTable(t *testing.T) {
	tests := []struct {
		kind    EventKind
		indexed bool
		history bool
		sourced bool
	}{
		{KindQuote, false, false, false},
		{KindTrade, false, false, false},
		{KindOrder, true, false, true},
		{KindSpreadOrder, true, false, true},
		{KindCandle, true, true, false},
		{KindTimeAndSale, true, true, false},
		{KindGreeks, true, true, false},
		{KindSeries, true, false, false},
	}
	for _, tt := range tests {
		if got := tt.kind.Indexed(); got != tt.indexed {
			t.Errorf("%s.Indexed()=%v want %v", tt.kind, got, tt.indexed)
		}
		if got := tt.kind.History(); got != tt.history {
			t.Errorf("%s.History()=%v want %v", tt.kind, got, tt.history)
		}
		if got := tt.kind.Sourced(); got != tt.sourced {
			t.Errorf("%s.Sourced()=%v want %v", tt.kind, got, tt.sourced)
		}
	}
}

func TestKindMask(t *testing.T) {
	mask := KindOrder | KindQuote | KindCandle
	if mask.IsSingle() {
		t.Fatalf("mask reported as single kind")
	}
	if !KindOrder.IsSingle() {
		t.Fatalf("KindOrder not reported as single kind")
	}
	kinds := mask.Kinds()
	if len(kinds) != 3 || kinds[0] != KindQuote || kinds[1] != KindOrder || kinds[2] != KindCandle {
		t.Fatalf("unexpected split: %v", kinds)
	}
	if s := mask.String(); s != "Quote|Order|Candle" {
		t.Fatalf("unexpected name: %s", s)
	}
	if k, ok := KindByName(" timeandsale "); !ok || k != KindTimeAndSale {
		t.Fatalf("KindByName failed: %v %v", k, ok)
	}
	if _, ok := KindByName("Level2"); ok {
		t.Fatalf("expected unknown kind")
	}
}

func TestFlagsString(t *testing.T) {
	f := SnapshotBegin | TxPending
	if !f.Has(TxPending) || f.Has(SnapshotEnd) {
		t.Fatalf("unexpected Has results for %v", f)
	}
	if s := f.String(); s != "TX_PENDING|SNAPSHOT_BEGIN" {
		t.Fatalf("unexpected flags string %q", s)
	}
}

func TestClassifyTombstone(t *testing.T) {
	live := Order{Index: 1, Source: "NTV", Time: 10, Price: 100.5, Size: 1}
	if got := ClassifyTombstone(live).(Order); got.IsRemoved() {
		t.Fatalf("live order classified as tombstone")
	}

	dead := Order{Index: 1, Source: "NTV", Size: 5}
	got := ClassifyTombstone(dead).(Order)
	if !got.IsRemoved() {
		t.Fatalf("sentinel order not classified as tombstone")
	}
	if dead.IsRemoved() {
		t.Fatalf("classification mutated the input record")
	}

	// a resting record at zero price with a real time is not a removal
	zeroPriced := Order{Index: 2, Time: 5, Price: 0, Size: 3}
	if ClassifyTombstone(zeroPriced).(Order).IsRemoved() {
		t.Fatalf("zero-priced live order classified as tombstone")
	}

	spread := ClassifyTombstone(SpreadOrder{Order: Order{Index: 3}}).(SpreadOrder)
	if !spread.IsRemoved() || spread.Kind() != KindSpreadOrder {
		t.Fatalf("unexpected spread order classification: %+v", spread)
	}

	// kinds without a rule are never removals
	if IsTombstone(Quote{}) {
		t.Fatalf("quote classified as tombstone")
	}
}

// foreignOrder reports the Order kind without being an Order.
type foreignOrder struct{}

func (foreignOrder) Kind() EventKind     { return KindOrder }
func (foreignOrder) EventSource() string { return "" }

func TestTombstonePointerAndForeignRecords(t *testing.T) {
	if !IsTombstone(&Order{Index: 1}) {
		t.Fatalf("sentinel *Order not classified as tombstone")
	}
	if IsTombstone(&Order{Index: 1, Time: 3, Price: 1}) {
		t.Fatalf("live *Order classified as tombstone")
	}
	if IsTombstone(&Candle{Index: 1, Time: 1, Close: 2}) {
		t.Fatalf("live *Candle classified as tombstone")
	}
	if IsTombstone(foreignOrder{}) {
		t.Fatalf("foreign record classified as tombstone")
	}
	if got := ClassifyTombstone(foreignOrder{}); got != (foreignOrder{}) {
		t.Fatalf("foreign record changed: %#v", got)
	}
	if got, ok := ClassifyTombstone(&Order{Index: 4}).(IndexedRecord); !ok || !got.IsRemoved() {
		t.Fatalf("sentinel *Order not tagged as removal: %#v", got)
	}
}

func TestTimeSeriesIndex(t *testing.T) {
	tests := []struct {
		time int64
		seq  int32
	}{
		{0, 0},
		{1_700_000_000_123, 7},
		{1_700_000_000_999, maxSequence},
		{-1, 1},
	}
	for _, tt := range tests {
		idx := TimeSeriesIndex(tt.time, tt.seq)
		if got := IndexTime(idx); got != tt.time {
			t.Errorf("IndexTime(TimeSeriesIndex(%d,%d))=%d", tt.time, tt.seq, got)
		}
		if got := IndexSequence(idx); got != tt.seq {
			t.Errorf("IndexSequence(TimeSeriesIndex(%d,%d))=%d", tt.time, tt.seq, got)
		}
	}
	if TimeSeriesIndex(1000, 0) <= TimeSeriesIndex(999, maxSequence) {
		t.Fatalf("index order does not follow time order")
	}
}

func TestFeedFrameJSON(t *testing.T) {
	data := []byte(`{"type":"Order","symbol":"SPY","flags":5,"records":[{"index":5,"price":100.5}]}`)
	var f FeedFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != "Order" || f.Symbol != "SPY" || f.Flags != TxPending|SnapshotBegin || len(f.Records) != 1 {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if f.Time != nil {
		t.Fatalf("expected no frame time")
	}
}
