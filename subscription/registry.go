package subscription

import (
	"sync"

	"github.com/pkg/errors"

	"mdfeed/logger"
	"mdfeed/models"
)

// SymbolHandler is told when the set of (kind, symbol) pairs the registry
// needs from the feed changes. The reader implements it to send
// subscribe/unsubscribe frames. Calls are made without registry locks held.
type SymbolHandler interface {
	SymbolsAdded(reqs []models.SymbolRequest)
	SymbolsRemoved(reqs []models.SymbolRequest)
}

type requestKey struct {
	kind models.EventKind
	name string
}

// Registry owns the subscriptions of one connection and routes every decoded
// batch to the ones that match it.
type Registry struct {
	name string

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	nextID uint64

	handlerMu sync.RWMutex
	handler   SymbolHandler

	// refs counts subscriptions per (kind, symbol) so the feed is asked
	// once per pair however many subscriptions share it.
	refMu sync.Mutex
	refs  map[requestKey]int

	log *logger.Log
}

type Option func(*Registry)

// WithName labels the registry's log entries with a connection name.
func WithName(name string) Option {
	return func(r *Registry) { r.name = name }
}

func WithSymbolHandler(h SymbolHandler) Option {
	return func(r *Registry) { r.handler = h }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		name: "default",
		subs: make(map[*Subscription]struct{}),
		refs: make(map[requestKey]int),
		log:  logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSymbolHandler replaces the symbol handler; nil disables notifications.
func (r *Registry) SetSymbolHandler(h SymbolHandler) {
	r.handlerMu.Lock()
	r.handler = h
	r.handlerMu.Unlock()
}

func (r *Registry) symbolHandler() SymbolHandler {
	r.handlerMu.RLock()
	defer r.handlerMu.RUnlock()
	return r.handler
}

// Len returns the number of open subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// CreateSubscription registers a new subscription for the given kinds. It
// fails only when the mask is empty.
func (r *Registry) CreateSubscription(kinds models.EventKind, flags Flags, timeCursor int64) (*Subscription, error) {
	if kinds == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "create subscription: empty event mask")
	}

	r.mu.Lock()
	r.nextID++
	sub := newSubscription(r.nextID, kinds, flags, timeCursor)
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	r.log.WithComponent("subscription_registry").WithFields(logger.Fields{
		"connection":      r.name,
		"subscription_id": sub.id,
		"kinds":           kinds.String(),
	}).Debug("subscription created")
	return sub, nil
}

// acquire returns sub locked when it is a live handle of this registry.
func (r *Registry) acquire(sub *Subscription, op string) error {
	if sub == nil {
		return errors.Wrapf(ErrInvalidHandle, "%s: nil subscription", op)
	}
	r.mu.RLock()
	_, ok := r.subs[sub]
	r.mu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrInvalidHandle, "%s: unknown subscription %d", op, sub.id)
	}
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return errors.Wrapf(ErrInvalidHandle, "%s: subscription %d closed", op, sub.id)
	}
	return nil
}

func validateSymbols(op string, symbols []models.Symbol) error {
	for _, sym := range symbols {
		if sym.Name == "" {
			return errors.Wrapf(ErrInvalidArgument, "%s: empty symbol", op)
		}
	}
	return nil
}

// AddSymbols adds symbols to sub. Symbols already present are ignored.
func (r *Registry) AddSymbols(sub *Subscription, symbols ...models.Symbol) error {
	if err := validateSymbols("add symbols", symbols); err != nil {
		return err
	}
	if err := r.acquire(sub, "add symbols"); err != nil {
		return err
	}
	added := make([]models.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		if _, ok := sub.symbols[sym.Name]; ok {
			continue
		}
		sub.symbols[sym.Name] = sym
		added = append(added, sym)
	}
	reqs := r.retain(sub.requestsLocked(added))
	sub.mu.Unlock()

	r.notifyAdded(reqs)
	return nil
}

// RemoveSymbols removes symbols from sub. Absent symbols are ignored.
func (r *Registry) RemoveSymbols(sub *Subscription, symbols ...models.Symbol) error {
	if err := validateSymbols("remove symbols", symbols); err != nil {
		return err
	}
	if err := r.acquire(sub, "remove symbols"); err != nil {
		return err
	}
	removed := make([]models.Symbol, 0, len(symbols))
	for _, sym := range symbols {
		stored, ok := sub.symbols[sym.Name]
		if !ok {
			continue
		}
		delete(sub.symbols, sym.Name)
		removed = append(removed, stored)
	}
	reqs := r.release(sub.requestsLocked(removed))
	sub.mu.Unlock()

	r.notifyRemoved(reqs)
	return nil
}

// SetSourceFilter restricts sourced records delivered to sub to the given
// sources. Calling it with no sources clears the filter.
func (r *Registry) SetSourceFilter(sub *Subscription, sources ...string) error {
	for _, src := range sources {
		if src == "" {
			return errors.Wrap(ErrInvalidArgument, "set source filter: empty source")
		}
	}
	if err := r.acquire(sub, "set source filter"); err != nil {
		return err
	}
	defer sub.mu.Unlock()
	if len(sources) == 0 {
		sub.sources = nil
		return nil
	}
	sub.sources = make(map[string]struct{}, len(sources))
	for _, src := range sources {
		sub.sources[src] = struct{}{}
	}
	return nil
}

// SetTimeCursor moves the time cursor of sub and asks the feed again for the
// history kinds of every subscribed symbol from the new bound.
func (r *Registry) SetTimeCursor(sub *Subscription, cursor int64) error {
	if err := r.acquire(sub, "set time cursor"); err != nil {
		return err
	}
	sub.timeCursor = cursor
	symbols := make([]models.Symbol, 0, len(sub.symbols))
	for _, sym := range sub.symbols {
		symbols = append(symbols, sym)
	}
	reqs := make([]models.SymbolRequest, 0, len(symbols))
	for _, req := range sub.requestsLocked(symbols) {
		if req.Kind.History() {
			reqs = append(reqs, req)
		}
	}
	sub.mu.Unlock()

	r.notifyAdded(reqs)
	return nil
}

// AttachListener adds l to sub. Attaching a listener that is already
// attached is a no-op.
func (r *Registry) AttachListener(sub *Subscription, l Listener) error {
	if !ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "attach listener: nil or incomparable listener")
	}
	if err := r.acquire(sub, "attach listener"); err != nil {
		return err
	}
	defer sub.mu.Unlock()
	for _, existing := range sub.listeners {
		if existing == l {
			return nil
		}
	}
	sub.listeners = append(sub.listeners, l)
	return nil
}

// DetachListener removes l from sub. It fails when l is not attached.
func (r *Registry) DetachListener(sub *Subscription, l Listener) error {
	if !ValidListener(l) {
		return errors.Wrap(ErrInvalidArgument, "detach listener: nil or incomparable listener")
	}
	if err := r.acquire(sub, "detach listener"); err != nil {
		return err
	}
	defer sub.mu.Unlock()
	for i, existing := range sub.listeners {
		if existing == l {
			// copy so in-flight dispatches keep their own slice intact
			next := make([]Listener, 0, len(sub.listeners)-1)
			next = append(next, sub.listeners[:i]...)
			sub.listeners = append(next, sub.listeners[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidArgument, "detach listener: listener not attached to subscription %d", sub.id)
}

// Close detaches every listener and removes sub from the registry. Batches
// dispatched afterwards ignore it.
func (r *Registry) Close(sub *Subscription) error {
	if err := r.acquire(sub, "close subscription"); err != nil {
		return err
	}
	sub.closed = true
	sub.listeners = nil
	symbols := make([]models.Symbol, 0, len(sub.symbols))
	for _, sym := range sub.symbols {
		symbols = append(symbols, sym)
	}
	reqs := r.release(sub.requestsLocked(symbols))
	sub.mu.Unlock()

	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()

	r.notifyRemoved(reqs)
	r.log.WithComponent("subscription_registry").WithFields(logger.Fields{
		"connection":      r.name,
		"subscription_id": sub.id,
	}).Debug("subscription closed")
	return nil
}

// CloseAll closes every open subscription; used on connection teardown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		if err := r.Close(sub); err != nil && !errors.Is(err, ErrInvalidHandle) {
			r.log.WithComponent("subscription_registry").WithError(err).Warn("failed to close subscription")
		}
	}
}

// Requests lists every (kind, symbol) pair currently needed from the feed.
// History kinds carry the earliest time bound among the subscriptions that
// share the pair. The reader replays them after a reconnect.
func (r *Registry) Requests() []models.SymbolRequest {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	merged := make(map[requestKey]models.SymbolRequest)
	order := make([]requestKey, 0)
	for _, sub := range subs {
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			continue
		}
		symbols := make([]models.Symbol, 0, len(sub.symbols))
		for _, sym := range sub.symbols {
			symbols = append(symbols, sym)
		}
		reqs := sub.requestsLocked(symbols)
		sub.mu.Unlock()

		for _, req := range reqs {
			key := requestKey{kind: req.Kind, name: req.Symbol.Name}
			prev, ok := merged[key]
			if !ok {
				merged[key] = req
				order = append(order, key)
				continue
			}
			if req.Kind.History() && req.TimeBound < prev.TimeBound {
				prev.TimeBound = req.TimeBound
			}
			prev.TimeSeries = prev.TimeSeries || req.TimeSeries
			merged[key] = prev
		}
	}

	out := make([]models.SymbolRequest, 0, len(order))
	for _, key := range order {
		out = append(out, merged[key])
	}
	return out
}

// Dispatch routes one decoded batch to every matching subscription and
// returns how many subscriptions received it. It is called sequentially by
// the connection's reader; listeners run on the caller's goroutine with no
// registry or subscription lock held.
func (r *Registry) Dispatch(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) int {
	r.mu.RLock()
	subs := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		listeners, recs, ok := sub.delivery(kind, symbol, records, params)
		if !ok {
			continue
		}
		delivered++
		for _, l := range listeners {
			l.OnEvents(kind, symbol, recs, params)
		}
	}
	return delivered
}

// retain bumps the reference count of each request and returns the ones
// that became needed. Called with the owning subscription locked.
func (r *Registry) retain(reqs []models.SymbolRequest) []models.SymbolRequest {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	out := reqs[:0:0]
	for _, req := range reqs {
		key := requestKey{kind: req.Kind, name: req.Symbol.Name}
		r.refs[key]++
		if r.refs[key] == 1 {
			out = append(out, req)
		}
	}
	return out
}

// release drops the reference count of each request and returns the ones
// no subscription needs anymore.
func (r *Registry) release(reqs []models.SymbolRequest) []models.SymbolRequest {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	out := reqs[:0:0]
	for _, req := range reqs {
		key := requestKey{kind: req.Kind, name: req.Symbol.Name}
		n := r.refs[key]
		if n <= 1 {
			delete(r.refs, key)
			out = append(out, req)
			continue
		}
		r.refs[key] = n - 1
	}
	return out
}

func (r *Registry) notifyAdded(reqs []models.SymbolRequest) {
	if len(reqs) == 0 {
		return
	}
	if h := r.symbolHandler(); h != nil {
		h.SymbolsAdded(reqs)
	}
}

func (r *Registry) notifyRemoved(reqs []models.SymbolRequest) {
	if len(reqs) == 0 {
		return
	}
	if h := r.symbolHandler(); h != nil {
		h.SymbolsRemoved(reqs)
	}
}
