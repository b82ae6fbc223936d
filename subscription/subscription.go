package subscription

import (
	"sort"
	"sync"

	"mdfeed/models"
)

// Flags modify how a subscription is requested and delivered.
type Flags uint32

const (
	// FlagTimeSeries marks requests for history kinds as time-series requests.
	FlagTimeSeries Flags = 1 << iota
	// FlagSingleRecord delivers only the last record of every batch.
	FlagSingleRecord
)

// Subscription is one set of (kinds, symbols) a client is interested in.
// Handles are owned by the Registry that created them and become invalid
// after Close.
type Subscription struct {
	id    uint64
	kinds models.EventKind
	flags Flags

	mu         sync.Mutex
	symbols    map[string]models.Symbol
	sources    map[string]struct{}
	listeners  []Listener
	timeCursor int64
	closed     bool
	// open marks (kind, symbol) pairs whose last delivered batch carried
	// TxPending. Only tracked while a source filter is set.
	open map[txKey]bool
}

type txKey struct {
	kind   models.EventKind
	symbol string
}

func newSubscription(id uint64, kinds models.EventKind, flags Flags, timeCursor int64) *Subscription {
	return &Subscription{
		id:         id,
		kinds:      kinds,
		flags:      flags,
		symbols:    make(map[string]models.Symbol),
		timeCursor: timeCursor,
	}
}

func (s *Subscription) ID() uint64 { return s.id }
func (s *Subscription) Kinds() models.EventKind { return s.kinds }
func (s *Subscription) Flags() Flags { return s.flags }

// Symbols returns the subscribed symbols sorted by name.
func (s *Subscription) Symbols() []models.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Symbol, 0, len(s.symbols))
	for _, sym := range s.symbols {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Sources returns the source filter, sorted; empty means no filter.
func (s *Subscription) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sources))
	for src := range s.sources {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

func (s *Subscription) TimeCursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeCursor
}

func (s *Subscription) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// requestsLocked builds one request per subscribed kind for each symbol.
func (s *Subscription) requestsLocked(symbols []models.Symbol) []models.SymbolRequest {
	reqs := make([]models.SymbolRequest, 0, len(symbols))
	for _, sym := range symbols {
		s.kinds.Each(func(kind models.EventKind) {
			reqs = append(reqs, models.SymbolRequest{
				Kind:       kind,
				Symbol:     sym,
				TimeBound:  TimeBound(kind, s.timeCursor),
				TimeSeries: s.flags&FlagTimeSeries != 0 && kind.History(),
			})
		})
	}
	return reqs
}

func (s *Subscription) matchesSymbolLocked(symbol models.Symbol) bool {
	if _, ok := s.symbols[symbol.Name]; ok {
		return true
	}
	_, ok := s.symbols[models.WildcardSymbol]
	return ok
}

// filterSourcesLocked drops the sourced records the source filter rejects.
// The input slice is returned unchanged when nothing is dropped.
func (s *Subscription) filterSourcesLocked(records []models.Record) []models.Record {
	if len(s.sources) == 0 {
		return records
	}
	var kept []models.Record
	for i, r := range records {
		_, ok := s.sources[r.EventSource()]
		if ok || !r.Kind().Sourced() {
			if kept != nil {
				kept = append(kept, r)
			}
			continue
		}
		if kept == nil {
			kept = append(make([]models.Record, 0, len(records)-1), records[:i]...)
		}
	}
	if kept == nil {
		return records
	}
	return kept
}

// admitFilteredLocked decides whether a batch emptied by the source filter
// is still delivered. Batches carrying event flags, or closing a transaction
// the subscription has seen open, keep their flags so transactions split by
// source still begin and end for the subscriber.
func (s *Subscription) admitFilteredLocked(key txKey, params models.EventParams) bool {
	return params.Flags != 0 || s.open[key]
}

func (s *Subscription) trackTxLocked(key txKey, params models.EventParams) {
	if len(s.sources) == 0 {
		delete(s.open, key)
		return
	}
	if params.Flags.Has(models.TxPending) {
		if s.open == nil {
			s.open = make(map[txKey]bool)
		}
		s.open[key] = true
		return
	}
	delete(s.open, key)
}

// delivery decides whether a batch is routed to s and, if so, returns the
// listeners and the records passing the source filter. The listener slice
// is a copy so callers can invoke it without holding s.mu.
func (s *Subscription) delivery(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) ([]Listener, []models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.kinds.Has(kind) || !s.matchesSymbolLocked(symbol) {
		return nil, nil, false
	}
	key := txKey{kind: kind, symbol: symbol.Name}
	if filtered := s.filterSourcesLocked(records); len(filtered) != len(records) {
		if len(filtered) == 0 && !s.admitFilteredLocked(key, params) {
			return nil, nil, false
		}
		records = filtered
	}
	s.trackTxLocked(key, params)
	if params.HasTime && s.timeCursor == 0 && kind.History() {
		s.timeCursor = params.RecordTime
	}
	if len(s.listeners) == 0 {
		return nil, nil, false
	}
	if s.flags&FlagSingleRecord != 0 && len(records) > 1 {
		records = records[len(records)-1:]
	}
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	return listeners, records, true
}
