package models

// tombstoneRules hold the per-kind sentinel conventions the server uses to
// send a removal as an ordinary record. They are consulted once, at decode
// time; everything downstream reads the explicit Removed tag instead.
var tombstoneRules = map[EventKind]func(Record) bool{
	KindOrder:       tombstoneRule(func(o Order) bool { return o.Time == 0 && o.Price == 0 }),
	KindSpreadOrder: tombstoneRule(func(o SpreadOrder) bool { return o.Time == 0 && o.Price == 0 }),
	KindCandle:      tombstoneRule(func(c Candle) bool { return c.Time == 0 && c.Close == 0 }),
	KindTimeAndSale: tombstoneRule(func(t TimeAndSale) bool { return t.Time == 0 && t.Price == 0 }),
	KindGreeks:      tombstoneRule(func(g Greeks) bool { return g.Time == 0 && g.Price == 0 }),
	KindSeries:      tombstoneRule(func(s Series) bool { return s.Expiration == 0 && s.Volatility == 0 }),
}

// tombstoneRule adapts a rule on T to any Record. Pointers to T are
// accepted; records of another type never match.
func tombstoneRule[T Record](match func(T) bool) func(Record) bool {
	return func(r Record) bool {
		switch v := any(r).(type) {
		case T:
			return match(v)
		case *T:
			return v != nil && match(*v)
		}
		return false
	}
}

type removable interface {
	markRemoved() Record
}

// IsTombstone reports whether r matches its kind's sentinel convention.
// Kinds without a rule are never tombstones, so an unrecognized record is
// applied as an upsert rather than dropped.
func IsTombstone(r Record) bool {
	rule, ok := tombstoneRules[r.Kind()]
	if !ok {
		return false
	}
	return rule(r)
}

// ClassifyTombstone returns r with its removal tag set when r is a tombstone.
func ClassifyTombstone(r Record) Record {
	if !IsTombstone(r) {
		return r
	}
	if m, ok := r.(removable); ok {
		return m.markRemoved()
	}
	return r
}

// MarkRemoved returns a copy of r tagged as a removal. Records without a
// removal tag are returned unchanged.
func MarkRemoved(r Record) Record {
	if m, ok := r.(removable); ok {
		return m.markRemoved()
	}
	return r
}
