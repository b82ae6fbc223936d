package symbols

import (
	"strings"
	"sync"

	"mdfeed/models"
)

// Table interns symbol names into dense int32 codes for one connection.
// Codes start at 1; zero is reserved for "not interned".
type Table struct {
	mu    sync.RWMutex
	codes map[string]int32
	names []string
}

func NewTable() *Table {
	return &Table{
		codes: make(map[string]int32),
		names: []string{""},
	}
}

// Normalize trims surrounding whitespace. Symbol names are otherwise case
// and punctuation sensitive (".AAPL240119C150", "/ESZ23").
func Normalize(name string) string {
	return strings.TrimSpace(name)
}

// Intern returns the symbol for name, assigning a new code on first use.
// An empty name yields the zero Symbol.
func (t *Table) Intern(name string) models.Symbol {
	name = Normalize(name)
	if name == "" {
		return models.Symbol{}
	}

	t.mu.RLock()
	code, ok := t.codes[name]
	t.mu.RUnlock()
	if ok {
		return models.Symbol{Name: name, Code: code}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if code, ok := t.codes[name]; ok {
		return models.Symbol{Name: name, Code: code}
	}
	code = int32(len(t.names))
	t.codes[name] = code
	t.names = append(t.names, name)
	return models.Symbol{Name: name, Code: code}
}

// InternAll interns every name in order.
func (t *Table) InternAll(names []string) []models.Symbol {
	out := make([]models.Symbol, 0, len(names))
	for _, n := range names {
		if sym := t.Intern(n); sym.Name != "" {
			out = append(out, sym)
		}
	}
	return out
}

// Lookup returns the symbol for name without interning it.
func (t *Table) Lookup(name string) (models.Symbol, bool) {
	name = Normalize(name)
	t.mu.RLock()
	defer t.mu.RUnlock()
	code, ok := t.codes[name]
	if !ok {
		return models.Symbol{}, false
	}
	return models.Symbol{Name: name, Code: code}, true
}

// Name resolves a code back to its symbol name.
func (t *Table) Name(code int32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if code <= 0 || int(code) >= len(t.names) {
		return "", false
	}
	return t.names[code], true
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names) - 1
}
