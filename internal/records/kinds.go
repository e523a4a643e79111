package records

import (
	"maps"
	"slices"
	"time"
)

// Profile holds a player's identity and progression data.
type Profile struct {
	DisplayName  string    `yaml:"display_name,omitempty"`
	CreatedAt    time.Time `yaml:"created_at"`
	XP           int64     `yaml:"xp"`
	Level        int       `yaml:"level"`
	CommandsUsed int64     `yaml:"commands_used"`
}

func NewProfile() *Profile {
	return &Profile{CreatedAt: time.Now().UTC(), Level: 1}
}

func (*Profile) Kind() Kind { return KindProfile }

func (p *Profile) Clone() Doc {
	c := *p
	return &c
}

// Inventory maps item name to owned quantity.
type Inventory struct {
	Items map[string]int `yaml:"items,omitempty"`
}

func NewInventory() *Inventory {
	return &Inventory{Items: map[string]int{}}
}

func (*Inventory) Kind() Kind { return KindInventory }

func (i *Inventory) Clone() Doc {
	return &Inventory{Items: maps.Clone(i.Items)}
}

// Cooldowns tracks, per action name, the time at which the action becomes
// available again.
type Cooldowns struct {
	ReadyAt map[string]time.Time `yaml:"ready_at,omitempty"`
}

func NewCooldowns() *Cooldowns {
	return &Cooldowns{ReadyAt: map[string]time.Time{}}
}

func (*Cooldowns) Kind() Kind { return KindCooldowns }

func (c *Cooldowns) Clone() Doc {
	return &Cooldowns{ReadyAt: maps.Clone(c.ReadyAt)}
}

// Remaining returns how long until the action is ready, or zero if it is.
func (c *Cooldowns) Remaining(action string, now time.Time) time.Duration {
	at, ok := c.ReadyAt[action]
	if !ok || !now.Before(at) {
		return 0
	}
	return at.Sub(now)
}

// Relationships holds a player's social links to other entity IDs.
type Relationships struct {
	Partner string   `yaml:"partner,omitempty"`
	Friends []string `yaml:"friends,omitempty"`
	Blocked []string `yaml:"blocked,omitempty"`
}

func NewRelationships() *Relationships {
	return &Relationships{}
}

func (*Relationships) Kind() Kind { return KindRelationships }

func (r *Relationships) Clone() Doc {
	c := *r
	c.Friends = slices.Clone(r.Friends)
	c.Blocked = slices.Clone(r.Blocked)
	return &c
}

// Prestige records how many times the player has reset progression. Each
// level grants a permanent earnings multiplier.
type Prestige struct {
	Level   int       `yaml:"level"`
	ResetAt time.Time `yaml:"reset_at,omitempty"`
}

func NewPrestige() *Prestige {
	return &Prestige{}
}

func (*Prestige) Kind() Kind { return KindPrestige }

func (p *Prestige) Clone() Doc {
	c := *p
	return &c
}

// Effect is one active earnings modifier, from an item or event.
type Effect struct {
	Name          string    `yaml:"name"`
	MultiplierPct int       `yaml:"multiplier_pct,omitempty"`
	FlatBonus     int64     `yaml:"flat_bonus,omitempty"`
	Permanent     bool      `yaml:"permanent,omitempty"`
	ExpiresAt     time.Time `yaml:"expires_at,omitempty"`
}

// Effects holds a player's active earnings modifiers.
type Effects struct {
	Active []Effect `yaml:"active,omitempty"`
}

func NewEffects() *Effects {
	return &Effects{}
}

func (*Effects) Kind() Kind { return KindEffects }

func (e *Effects) Clone() Doc {
	return &Effects{Active: slices.Clone(e.Active)}
}

// Prune removes temporary effects that have expired and reports how many
// were removed.
func (e *Effects) Prune(now time.Time) int {
	kept := e.Active[:0]
	for _, a := range e.Active {
		if a.Permanent || a.ExpiresAt.After(now) {
			kept = append(kept, a)
		}
	}
	n := len(e.Active) - len(kept)
	e.Active = kept
	return n
}

// GlobalStats is the process-wide counters document, stored in the global
// directory rather than under any player.
type GlobalStats struct {
	PlayersCreated   int64     `yaml:"players_created"`
	OperationsServed int64     `yaml:"operations_served"`
	LastBackup       time.Time `yaml:"last_backup,omitempty"`
}

func NewGlobalStats() *GlobalStats {
	return &GlobalStats{}
}

func (*GlobalStats) Kind() Kind { return KindStats }

func (g *GlobalStats) Clone() Doc {
	c := *g
	return &c
}
