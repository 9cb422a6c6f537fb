// Package domain holds the tiered challenge model: code kinds, the append-only event log, and the record folded from it.
package domain

import "fmt"

// Kind is a tiered challenge code kind. The numeric order is the order codes must be verified in.
type Kind int

const (
	KindTax Kind = iota
	KindActivation
	KindIMF
)

// KindCount is the number of tiered kinds; records index their code slots by Kind.
const KindCount = 3

// Kinds returns every kind in verification order.
func Kinds() [KindCount]Kind {
	return [KindCount]Kind{KindTax, KindActivation, KindIMF}
}

var kindNames = [KindCount]string{"tax", "activation", "imf"}

func (k Kind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Valid reports whether k is one of the three tiered kinds.
func (k Kind) Valid() bool {
	return k >= KindTax && k <= KindIMF
}

// ParseKind parses "tax", "activation" or "imf".
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown challenge kind %q", s)
}
