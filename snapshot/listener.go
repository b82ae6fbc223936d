package snapshot

import "mdfeed/models"

// View is the full committed record list of a snapshot at one commit, in
// first-insertion order. It is a copy owned by the receiver.
type View struct {
	Kind    models.EventKind
	Symbol  models.Symbol
	Source  string
	Records []models.IndexedRecord
}

// Removal is an index dropped by a transaction together with the payload it
// held before the transaction.
type Removal struct {
	Index    int64
	Previous models.IndexedRecord
}

// Delta lists what one committed transaction changed. The three lists are
// disjoint: Additions hold indices that were not committed before,
// Updates hold committed indices that were overwritten and Removals hold
// committed indices that were dropped.
type Delta struct {
	Kind      models.EventKind
	Symbol    models.Symbol
	Source    string
	Removals  []Removal
	Additions []models.IndexedRecord
	Updates   []models.IndexedRecord
}

// Empty reports whether the transaction changed nothing.
func (d Delta) Empty() bool {
	return len(d.Removals) == 0 && len(d.Additions) == 0 && len(d.Updates) == 0
}

// FullListener is called once per committed transaction with the whole
// snapshot.
type FullListener interface {
	OnSnapshot(view View)
}

// IncrementalListener is called once per committed transaction with the
// changes it made.
type IncrementalListener interface {
	OnDelta(delta Delta)
}

type FullFunc struct{ fn func(View) }

// NewFullListener wraps fn so it can be added and removed by identity.
func NewFullListener(fn func(View)) *FullFunc { return &FullFunc{fn: fn} }

func (f *FullFunc) OnSnapshot(view View) {
	if f.fn != nil {
		f.fn(view)
	}
}

type IncrementalFunc struct{ fn func(Delta) }

// NewIncrementalListener wraps fn so it can be added and removed by identity.
func NewIncrementalListener(fn func(Delta)) *IncrementalFunc { return &IncrementalFunc{fn: fn} }

func (f *IncrementalFunc) OnDelta(delta Delta) {
	if f.fn != nil {
		f.fn(delta)
	}
}
