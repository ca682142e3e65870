package ratelimit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"ringhub.sh/ringhub/core/db"
)

// Window is one of the quota windows an action is capped over.
type Window string

const (
	WindowHour Window = "hour"
	WindowDay  Window = "day"
	WindowWeek Window = "week"
)

var allWindows = []Window{WindowHour, WindowDay, WindowWeek}

// Unlimited marks a tier as having no cap for a given window.
const Unlimited = -1

// tierQuota maps a tier name to its cap for one window. A tier with no
// entry has no cap (CapFor reports Unlimited); an explicit 0 is a cap of
// zero, which denies every attempt.
type tierQuota map[db.Tier]int

type actionQuota map[Window]tierQuota

// Table is the tiered quota configuration: action -> window -> tier -> cap.
type Table struct {
	Actions map[string]actionQuota `yaml:"actions"`
}

// yamlTable mirrors the on-disk shape, which is friendlier to hand-author
// than the nested map type directly.
type yamlTable struct {
	Actions map[string]map[string]map[string]int `yaml:"actions"`
}

// DefaultTable is used when no quota file is configured. It declares
// per-tier hour/day/week caps for fork_ring and an hourly cap of 10 for
// profile_updated in every tier.
func DefaultTable() *Table {
	return &Table{
		Actions: map[string]actionQuota{
			"fork_ring": {
				WindowHour: tierQuota{db.TierNew: 1, db.TierEstablished: 3, db.TierVeteran: 10, db.TierTrusted: Unlimited},
				WindowDay:  tierQuota{db.TierNew: 3, db.TierEstablished: 10, db.TierVeteran: 30, db.TierTrusted: Unlimited},
				WindowWeek: tierQuota{db.TierNew: 10, db.TierEstablished: 30, db.TierVeteran: 100, db.TierTrusted: Unlimited},
			},
			"profile_updated": {
				WindowHour: tierQuota{db.TierNew: 10, db.TierEstablished: 10, db.TierVeteran: 10, db.TierTrusted: 10},
			},
		},
	}
}

// LoadTable reads a quota table from a YAML file, falling back to
// DefaultTable if path is empty.
func LoadTable(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: reading quota file: %w", err)
	}

	var y yamlTable
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("ratelimit: parsing quota file: %w", err)
	}

	t := &Table{Actions: map[string]actionQuota{}}
	for action, windows := range y.Actions {
		aq := actionQuota{}
		for w, tiers := range windows {
			tq := tierQuota{}
			for tier, limit := range tiers {
				tq[db.Tier(tier)] = limit
			}
			aq[Window(w)] = tq
		}
		t.Actions[action] = aq
	}
	return t, nil
}

// CapFor returns the cap for (action, window, tier) and whether the action
// is governed at all. A returned cap of Unlimited (or absent tier entry)
// means no cap applies.
func (t *Table) CapFor(action string, w Window, tier db.Tier) (limit int, governed bool) {
	aq, ok := t.Actions[action]
	if !ok {
		return 0, false
	}
	tq, ok := aq[w]
	if !ok {
		return 0, true
	}
	c, ok := tq[tier]
	if !ok {
		return Unlimited, true
	}
	return c, true
}

// WindowsFor returns the set of windows configured for action.
func (t *Table) WindowsFor(action string) []Window {
	aq, ok := t.Actions[action]
	if !ok {
		return nil
	}
	var ws []Window
	for _, w := range allWindows {
		if _, ok := aq[w]; ok {
			ws = append(ws, w)
		}
	}
	return ws
}
