package orderedmap

import (
	"reflect"
	"testing"
)

func TestInsertionOrder(t *testing.T) {
	m := New[string]()
	for _, k := range []int64{5, 4, 2, 1, 0} {
		if replaced := m.Set(k, "a"); replaced {
			t.Fatalf("unexpected replace for %d", k)
		}
	}
	if got, want := m.Keys(), []int64{5, 4, 2, 1, 0}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys=%v want %v", got, want)
	}
}

func TestUpdateKeepsPosition(t *testing.T) {
	m := New[float64]()
	m.Set(5, 100.5)
	m.Set(4, 101.0)
	m.Set(2, 100.4)
	if !m.Set(4, 101.5) {
		t.Fatalf("expected in-place replace")
	}
	if got, want := m.Keys(), []int64{5, 4, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys=%v want %v", got, want)
	}
	if v, ok := m.Get(4); !ok || v != 101.5 {
		t.Fatalf("Get(4)=%v,%v", v, ok)
	}
	if m.Len() != 3 {
		t.Fatalf("len=%d", m.Len())
	}
}

func TestDeleteAndReinsert(t *testing.T) {
	m := New[int]()
	m.Set(1, 1)
	m.Set(2, 2)
	m.Set(3, 3)
	if v, ok := m.Delete(1); !ok || v != 1 {
		t.Fatalf("Delete(1)=%v,%v", v, ok)
	}
	if _, ok := m.Delete(1); ok {
		t.Fatalf("second delete succeeded")
	}
	m.Set(1, 10)
	if got, want := m.Keys(), []int64{2, 3, 1}; !reflect.DeepEqual(got, want) {
		t.Fatalf("keys=%v want %v", got, want)
	}
	if got, want := m.Values(), []int{2, 3, 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("values=%v want %v", got, want)
	}
	m.Clear()
	if m.Len() != 0 || m.Has(2) || len(m.Keys()) != 0 {
		t.Fatalf("clear left entries behind")
	}
}
