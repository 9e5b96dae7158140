package reset

import "github.com/angelmondragon/catalogsync/pkg/shopify"

// Replacement links a backed up variant to the variant recreated from it.
type Replacement struct {
	OldVariantID       int64
	NewVariantID       int64
	NewInventoryItemID int64
}

// IdentityMap is built while recreating and consulted by inventory
// restoration. It lives for one product run only.
type IdentityMap struct {
	entries map[int64]Replacement
	order   []int64
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[int64]Replacement)}
}

// Record maps oldVariantID to the variant the platform just created.
func (m *IdentityMap) Record(oldVariantID int64, created shopify.Variant) Replacement {
	repl := Replacement{
		OldVariantID:       oldVariantID,
		NewVariantID:       created.ID,
		NewInventoryItemID: created.InventoryItemID,
	}
	if _, seen := m.entries[oldVariantID]; !seen {
		m.order = append(m.order, oldVariantID)
	}
	m.entries[oldVariantID] = repl
	return repl
}

func (m *IdentityMap) Lookup(oldVariantID int64) (Replacement, bool) {
	repl, ok := m.entries[oldVariantID]
	return repl, ok
}

func (m *IdentityMap) Len() int {
	return len(m.order)
}

// Entries returns the replacements in the order they were recorded.
func (m *IdentityMap) Entries() []Replacement {
	out := make([]Replacement, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}
