// Package records defines the typed documents stored per player: one struct
// per record kind, each with explicit defaults. The store decodes files into
// these types so malformed or unknown fields are rejected at read time.
package records

import "fmt"

// Kind names one record type within a player's directory.
type Kind string

const (
	KindProfile       Kind = "profile"
	KindBalances      Kind = "balances"
	KindInventory     Kind = "inventory"
	KindCooldowns     Kind = "cooldowns"
	KindRelationships Kind = "relationships"
	KindPrestige      Kind = "prestige"
	KindEffects       Kind = "effects"

	// KindStats is reserved for the process-wide counters document. It lives
	// in the global directory, never under a player.
	KindStats Kind = "stats"
)

// Doc is implemented by every record kind.
type Doc interface {
	// Kind returns the kind constant for this record type. Safe on a nil
	// receiver.
	Kind() Kind
	// Clone returns a deep copy. The store hands out and retains copies so
	// cached records are never aliased by callers.
	Clone() Doc
}

var factories = map[Kind]func() Doc{
	KindProfile:       func() Doc { return NewProfile() },
	KindBalances:      func() Doc { return NewBalances() },
	KindInventory:     func() Doc { return NewInventory() },
	KindCooldowns:     func() Doc { return NewCooldowns() },
	KindRelationships: func() Doc { return NewRelationships() },
	KindPrestige:      func() Doc { return NewPrestige() },
	KindEffects:       func() Doc { return NewEffects() },
	KindStats:         func() Doc { return NewGlobalStats() },
}

// playerKinds is the fixed enumeration order for per-player operations
// (erasure, schema export).
var playerKinds = []Kind{
	KindProfile,
	KindBalances,
	KindInventory,
	KindCooldowns,
	KindRelationships,
	KindPrestige,
	KindEffects,
}

// New returns a record of the given kind initialized with its defaults.
func New(kind Kind) (Doc, error) {
	f := factories[kind]
	if f == nil {
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
	return f(), nil
}

// PlayerKinds returns the record kinds scoped to a player, in stable order.
// The returned slice must not be modified.
func PlayerKinds() []Kind {
	return playerKinds
}
