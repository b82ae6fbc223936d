package snapshot

import (
	"sync"

	"github.com/pkg/errors"

	"mdfeed/internal/metrics"
	"mdfeed/internal/orderedmap"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/subscription"
)

// Snapshot materializes the consistent record set of one (kind, symbol,
// source) key from the batches dispatched to its subscription. Records are
// staged while a transaction is open and applied atomically on commit.
type Snapshot struct {
	key      Key
	symbol   models.Symbol
	manager  *Manager
	sub      *subscription.Subscription
	implicit bool
	dispatch *subscription.FuncListener

	mu        sync.Mutex
	state     State
	committed *orderedmap.Map[models.IndexedRecord]
	staged    *orderedmap.Map[models.IndexedRecord]
	removals  *orderedmap.Map[struct{}]
	// replace is set when the open transaction started with SnapshotBegin
	// and will replace the committed map instead of merging into it.
	replace bool
	// inSnapshot holds commits back between SnapshotBegin and SnapshotEnd.
	inSnapshot  bool
	full        []FullListener
	incremental []IncrementalListener
	commits     uint64

	log *logger.Log
}

func newSnapshot(m *Manager, key Key, symbol models.Symbol) *Snapshot {
	return &Snapshot{
		key:       key,
		symbol:    symbol,
		manager:   m,
		state:     Uninitialized,
		committed: orderedmap.New[models.IndexedRecord](),
		staged:    orderedmap.New[models.IndexedRecord](),
		removals:  orderedmap.New[struct{}](),
		log:       logger.GetLogger(),
	}
}

func (s *Snapshot) Key() Key { return s.key }

// Subscription returns the subscription the snapshot listens on.
func (s *Snapshot) Subscription() *subscription.Subscription { return s.sub }

func (s *Snapshot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Consistent reports whether the committed records reflect a complete
// transaction with none pending.
func (s *Snapshot) Consistent() bool {
	return s.State() == Committed
}

func (s *Snapshot) Symbol() (models.Symbol, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return models.Symbol{}, errors.Wrapf(ErrInvalidHandle, "snapshot %s closed", s.key)
	}
	return s.symbol, nil
}

func (s *Snapshot) CommittedCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return 0, errors.Wrapf(ErrInvalidHandle, "snapshot %s closed", s.key)
	}
	return s.committed.Len(), nil
}

// Records returns a copy of the committed records in snapshot order.
func (s *Snapshot) Records() ([]models.IndexedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil, errors.Wrapf(ErrInvalidHandle, "snapshot %s closed", s.key)
	}
	return s.committed.Values(), nil
}

// Commits returns the number of transactions committed so far.
func (s *Snapshot) Commits() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Snapshot) AddFullListener(l FullListener) error {
	if !subscription.ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "add full listener: nil or incomparable listener")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return errors.Wrapf(ErrInvalidHandle, "add full listener: snapshot %s closed", s.key)
	}
	for _, existing := range s.full {
		if existing == l {
			return nil
		}
	}
	s.full = append(s.full, l)
	return nil
}

func (s *Snapshot) RemoveFullListener(l FullListener) error {
	if !subscription.ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "remove full listener: nil or incomparable listener")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return errors.Wrapf(ErrInvalidHandle, "remove full listener: snapshot %s closed", s.key)
	}
	for i, existing := range s.full {
		if existing == l {
			s.full = append(s.full[:i:i], s.full[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidArgument, "remove full listener: not attached to snapshot %s", s.key)
}

func (s *Snapshot) AddIncrementalListener(l IncrementalListener) error {
	if !subscription.ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "add incremental listener: nil or incomparable listener")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return errors.Wrapf(ErrInvalidHandle, "add incremental listener: snapshot %s closed", s.key)
	}
	for _, existing := range s.incremental {
		if existing == l {
			return nil
		}
	}
	s.incremental = append(s.incremental, l)
	return nil
}

func (s *Snapshot) RemoveIncrementalListener(l IncrementalListener) error {
	if !subscription.ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "remove incremental listener: nil or incomparable listener")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return errors.Wrapf(ErrInvalidHandle, "remove incremental listener: snapshot %s closed", s.key)
	}
	for i, existing := range s.incremental {
		if existing == l {
			s.incremental = append(s.incremental[:i:i], s.incremental[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidArgument, "remove incremental listener: not attached to snapshot %s", s.key)
}

// Close stops the snapshot, releases its records and frees its key. The
// implicit subscription created with the snapshot is closed as well.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return errors.Wrapf(ErrInvalidHandle, "close snapshot %s: already closed", s.key)
	}
	s.state = Closed
	s.committed = nil
	s.staged = nil
	s.removals = nil
	s.full = nil
	s.incremental = nil
	s.mu.Unlock()

	s.manager.detach(s)
	return nil
}

// notification is built under s.mu and delivered after it is released.
type notification struct {
	view        View
	delta       Delta
	full        []FullListener
	incremental []IncrementalListener
}

// onEvents is attached to the backing subscription and runs on the
// connection's reader goroutine.
func (s *Snapshot) onEvents(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) {
	if kind != s.key.Kind || symbol.Name != s.key.Symbol {
		return
	}
	n, ok := s.apply(records, params)
	if !ok {
		return
	}
	for _, l := range n.full {
		view := n.view
		view.Records = append([]models.IndexedRecord(nil), n.view.Records...)
		l.OnSnapshot(view)
	}
	for _, l := range n.incremental {
		l.OnDelta(n.delta)
	}
}

// apply stages one batch and commits when it closes the transaction.
func (s *Snapshot) apply(records []models.Record, params models.EventParams) (notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed {
		s.log.WithComponent("snapshot").WithFields(logger.Fields{
			"snapshot": s.key.String(),
		}).Debug("batch dispatched to closed snapshot")
		return notification{}, false
	}

	flags := params.Flags
	if flags.Has(models.RemoveSymbol) {
		s.resetLocked()
		if s.state == Uninitialized {
			return notification{}, false
		}
		s.committed.Scan(func(idx int64, _ models.IndexedRecord) bool {
			s.removals.Set(idx, struct{}{})
			return true
		})
		s.state = Buffering
	}
	if flags.Has(models.SnapshotBegin) {
		if s.state != Uninitialized {
			metrics.IncrementResync(s.key.Kind.String())
			s.log.WithComponent("snapshot").WithFields(logger.Fields{
				"snapshot": s.key.String(),
				"state":    s.state.String(),
			}).Debug("snapshot resync")
		}
		s.resetLocked()
		s.replace = true
		s.inSnapshot = true
		s.state = Buffering
	}
	if s.state == Uninitialized {
		return notification{}, false
	}
	s.state = Buffering

	removeAll := flags.Has(models.RemoveEvent)
	for _, r := range records {
		rec, ok := r.(models.IndexedRecord)
		if !ok || r.Kind() != s.key.Kind {
			continue
		}
		if s.key.Source != "" && r.EventSource() != s.key.Source {
			continue
		}
		idx := rec.RecordIndex()
		if removeAll || rec.IsRemoved() {
			s.removals.Set(idx, struct{}{})
			continue
		}
		s.staged.Set(idx, rec)
	}

	if flags.Has(models.SnapshotEnd) || flags.Has(models.SnapshotSnip) {
		s.inSnapshot = false
	}
	if flags.Has(models.TxPending) || s.inSnapshot {
		return notification{}, false
	}
	return s.commitLocked(), true
}

// commitLocked applies the staged upserts in recorded order, then the staged
// removals. An index that was both upserted and removed in the transaction
// ends up removed. A replacement also removes every committed index it does
// not restate.
func (s *Snapshot) commitLocked() notification {
	delta := Delta{Kind: s.key.Kind, Symbol: s.symbol, Source: s.key.Source}

	if s.replace {
		// Committed indices missing from the replacement go first; the
		// survivors keep their position and new indices are appended, so
		// replaying the delta yields the same order as the full view.
		var gone []int64
		s.committed.Scan(func(idx int64, _ models.IndexedRecord) bool {
			if !s.staged.Has(idx) || s.removals.Has(idx) {
				gone = append(gone, idx)
			}
			return true
		})
		for _, idx := range gone {
			prev, _ := s.committed.Delete(idx)
			delta.Removals = append(delta.Removals, Removal{Index: idx, Previous: prev})
		}
		s.staged.Scan(func(idx int64, rec models.IndexedRecord) bool {
			if s.removals.Has(idx) {
				return true
			}
			if s.committed.Set(idx, rec) {
				delta.Updates = append(delta.Updates, rec)
			} else {
				delta.Additions = append(delta.Additions, rec)
			}
			return true
		})
	} else {
		s.staged.Scan(func(idx int64, rec models.IndexedRecord) bool {
			if s.removals.Has(idx) {
				return true
			}
			if s.committed.Set(idx, rec) {
				delta.Updates = append(delta.Updates, rec)
			} else {
				delta.Additions = append(delta.Additions, rec)
			}
			return true
		})
		s.removals.Scan(func(idx int64, _ struct{}) bool {
			if prev, ok := s.committed.Delete(idx); ok {
				delta.Removals = append(delta.Removals, Removal{Index: idx, Previous: prev})
			}
			return true
		})
	}

	s.resetLocked()
	s.state = Committed
	s.commits++
	metrics.IncrementCommit(s.key.Kind.String())
	logger.IncrementSnapshotCommit()

	n := notification{delta: delta}
	if len(s.full) > 0 {
		n.view = View{Kind: s.key.Kind, Symbol: s.symbol, Source: s.key.Source, Records: s.committed.Values()}
		n.full = append([]FullListener(nil), s.full...)
	}
	if len(s.incremental) > 0 {
		n.incremental = append([]IncrementalListener(nil), s.incremental...)
	}
	return n
}

// resetLocked discards the open transaction.
func (s *Snapshot) resetLocked() {
	s.staged.Clear()
	s.removals.Clear()
	s.replace = false
	s.inSnapshot = false
}
