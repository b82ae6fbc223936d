package snapshot

import (
	"sync"

	"github.com/pkg/errors"

	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/subscription"
)

// Manager creates the snapshots of one connection and keeps at most one
// active snapshot per Key.
type Manager struct {
	reg *subscription.Registry

	mu     sync.Mutex
	active map[Key]*Snapshot
	// pending holds reserved keys whose snapshot is still being bound. They
	// are invisible to Snapshots and CloseAll until bind completes.
	pending map[Key]*Snapshot

	log *logger.Log
}

func NewManager(reg *subscription.Registry) *Manager {
	return &Manager{
		reg:     reg,
		active:  make(map[Key]*Snapshot),
		pending: make(map[Key]*Snapshot),
		log:     logger.GetLogger(),
	}
}

func (m *Manager) Registry() *subscription.Registry { return m.reg }

// Len returns the number of active snapshots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Snapshots returns the active snapshots in no particular order.
func (m *Manager) Snapshots() []*Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Snapshot, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	return out
}

func validate(op string, kind models.EventKind, symbol models.Symbol) error {
	if !kind.IsSingle() || !kind.Indexed() {
		return errors.Wrapf(ErrUnsupported, "%s: kind %s has no unique index", op, kind)
	}
	if symbol.Name == "" {
		return errors.Wrapf(ErrInvalidArgument, "%s: empty symbol", op)
	}
	return nil
}

// Create opens a snapshot on a subscription created for it alone. The
// subscription is closed together with the snapshot. History kinds are
// requested from timeCursor.
func (m *Manager) Create(kind models.EventKind, symbol models.Symbol, source string, timeCursor int64) (*Snapshot, error) {
	if err := validate("create snapshot", kind, symbol); err != nil {
		return nil, err
	}
	s, err := m.reserve(Key{Kind: kind, Symbol: symbol.Name, Source: source}, symbol)
	if err != nil {
		return nil, err
	}

	var flags subscription.Flags
	if kind.History() {
		flags |= subscription.FlagTimeSeries
	}
	sub, err := m.reg.CreateSubscription(kind, flags, timeCursor)
	if err != nil {
		m.release(s)
		return nil, errors.Wrap(err, "create snapshot")
	}
	if err := m.bind(s, sub, true); err != nil {
		_ = m.reg.Close(sub)
		m.release(s)
		return nil, err
	}
	m.publish(s)
	return s, nil
}

// CreateOn opens a snapshot on an existing subscription, adding symbol to
// it when missing. Closing the snapshot leaves the subscription open.
func (m *Manager) CreateOn(sub *subscription.Subscription, kind models.EventKind, symbol models.Symbol, source string) (*Snapshot, error) {
	if sub == nil {
		return nil, errors.Wrap(ErrInvalidHandle, "create snapshot: nil subscription")
	}
	if err := validate("create snapshot", kind, symbol); err != nil {
		return nil, err
	}
	if !sub.Kinds().Has(kind) {
		return nil, errors.Wrapf(ErrInvalidArgument, "create snapshot: subscription %d does not carry %s", sub.ID(), kind)
	}
	s, err := m.reserve(Key{Kind: kind, Symbol: symbol.Name, Source: source}, symbol)
	if err != nil {
		return nil, err
	}
	if err := m.bind(s, sub, false); err != nil {
		m.release(s)
		return nil, err
	}
	m.publish(s)
	return s, nil
}

func (m *Manager) reserve(key Key, symbol models.Symbol) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[key]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "create snapshot %s", key)
	}
	if _, ok := m.pending[key]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "create snapshot %s", key)
	}
	s := newSnapshot(m, key, symbol)
	m.pending[key] = s
	return s, nil
}

// publish makes a bound snapshot visible.
func (m *Manager) publish(s *Snapshot) {
	m.mu.Lock()
	if m.pending[s.key] == s {
		delete(m.pending, s.key)
		m.active[s.key] = s
	}
	m.mu.Unlock()
}

func (m *Manager) release(s *Snapshot) {
	m.mu.Lock()
	if m.active[s.key] == s {
		delete(m.active, s.key)
	}
	if m.pending[s.key] == s {
		delete(m.pending, s.key)
	}
	m.mu.Unlock()
}

// bind attaches the snapshot's dispatch listener before the symbol is
// added so no batch requested for it can be missed. The snapshot is still
// pending, so nothing else can close it meanwhile.
func (m *Manager) bind(s *Snapshot, sub *subscription.Subscription, implicit bool) error {
	s.sub = sub
	s.implicit = implicit
	s.dispatch = subscription.NewListener(s.onEvents)
	if err := m.reg.AttachListener(sub, s.dispatch); err != nil {
		return errors.Wrap(err, "create snapshot")
	}
	if err := m.reg.AddSymbols(sub, s.symbol); err != nil {
		_ = m.reg.DetachListener(sub, s.dispatch)
		return errors.Wrap(err, "create snapshot")
	}

	m.log.WithComponent("snapshot_manager").WithFields(logger.Fields{
		"snapshot":        s.key.String(),
		"subscription_id": sub.ID(),
		"implicit":        implicit,
	}).Debug("snapshot created")
	return nil
}

// detach is called by Snapshot.Close once the snapshot state is released.
func (m *Manager) detach(s *Snapshot) {
	log := m.log.WithComponent("snapshot_manager").WithFields(logger.Fields{"snapshot": s.key.String()})
	if s.sub != nil {
		if err := m.reg.DetachListener(s.sub, s.dispatch); err != nil && !errors.Is(err, ErrInvalidHandle) {
			log.WithError(err).Warn("failed to detach snapshot listener")
		}
		if s.implicit {
			if err := m.reg.Close(s.sub); err != nil && !errors.Is(err, ErrInvalidHandle) {
				log.WithError(err).Warn("failed to close snapshot subscription")
			}
		}
	}
	m.release(s)
	log.Debug("snapshot closed")
}

// CloseAll closes every active snapshot; used on connection teardown.
func (m *Manager) CloseAll() {
	for _, s := range m.Snapshots() {
		if err := s.Close(); err != nil && !errors.Is(err, ErrInvalidHandle) {
			m.log.WithComponent("snapshot_manager").WithError(err).Warn("failed to close snapshot")
		}
	}
}
