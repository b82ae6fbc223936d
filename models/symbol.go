package models

// WildcardSymbol subscribes to every symbol of the subscribed kinds.
const WildcardSymbol = "*"

// Symbol is an interned instrument identifier. Code is a dense integer
// assigned by the connection's symbol table; zero means not interned.
type Symbol struct {
	Name string `json:"name"`
	Code int32  `json:"code"`
}

// NewSymbol builds an uninterned symbol.
func NewSymbol(name string) Symbol { return Symbol{Name: name} }

func (s Symbol) String() string { return s.Name }

// IsWildcard reports whether s is the wildcard symbol.
func (s Symbol) IsWildcard() bool { return s.Name == WildcardSymbol }
