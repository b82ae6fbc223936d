package subscription

import (
	"reflect"

	"mdfeed/models"
)

// Listener receives every batch routed to a subscription. Calls happen on the
// connection's reader goroutine; the records slice is shared between all
// listeners of the batch and must be treated as read-only.
type Listener interface {
	OnEvents(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams)
}

// ListenerFunc is the signature wrapped by NewListener.
type ListenerFunc func(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams)

// FuncListener gives a plain function an identity so it can be attached and
// detached like any other listener.
type FuncListener struct {
	fn ListenerFunc
}

func NewListener(fn ListenerFunc) *FuncListener {
	return &FuncListener{fn: fn}
}

func (l *FuncListener) OnEvents(kind models.EventKind, symbol models.Symbol, records []models.Record, params models.EventParams) {
	if l.fn != nil {
		l.fn(kind, symbol, records, params)
	}
}

// ValidListener rejects nil listeners and listeners whose dynamic type cannot
// be compared for identity.
func ValidListener(l any) bool {
	if l == nil {
		return false
	}
	v := reflect.ValueOf(l)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Chan, reflect.Func, reflect.Interface, reflect.Slice:
		if v.IsNil() {
			return false
		}
	}
	return v.Type().Comparable()
}
