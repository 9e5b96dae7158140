package reset

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/catalogsync/internal/backup"
	"github.com/angelmondragon/catalogsync/pkg/enums"
	"github.com/angelmondragon/catalogsync/pkg/shopify"
)

// SurvivorPolicy picks the variant kept alive while the others are
// recreated. Candidates are the backed up variants in original order and
// are never empty.
type SurvivorPolicy interface {
	Name() enums.SurvivorPolicyName
	Select(candidates []backup.VariantRecord) int
}

// FirstSurvivor keeps the variant at the lowest original position.
type FirstSurvivor struct{}

func (FirstSurvivor) Name() enums.SurvivorPolicyName { return enums.SurvivorPolicyFirst }

func (FirstSurvivor) Select([]backup.VariantRecord) int { return 0 }

// LastSurvivor keeps the variant at the highest original position.
type LastSurvivor struct{}

func (LastSurvivor) Name() enums.SurvivorPolicyName { return enums.SurvivorPolicyLast }

func (LastSurvivor) Select(candidates []backup.VariantRecord) int { return len(candidates) - 1 }

// PolicyFor resolves a configured policy name.
func PolicyFor(name enums.SurvivorPolicyName) (SurvivorPolicy, error) {
	switch name {
	case "", enums.SurvivorPolicyFirst:
		return FirstSurvivor{}, nil
	case enums.SurvivorPolicyLast:
		return LastSurvivor{}, nil
	default:
		return nil, fmt.Errorf("unknown survivor policy %q", name)
	}
}

// VariantFilter decides which variants are deleted but never recreated.
type VariantFilter interface {
	Excluded(v shopify.Variant) bool
}

// TitleMarkerFilter excludes variants whose title contains Marker,
// ignoring case. An empty marker excludes nothing.
type TitleMarkerFilter struct {
	Marker string
}

func (f TitleMarkerFilter) Excluded(v shopify.Variant) bool {
	marker := strings.ToLower(strings.TrimSpace(f.Marker))
	if marker == "" {
		return false
	}
	title := v.Title
	if title == "" {
		title = v.OptionSignature()
	}
	return strings.Contains(strings.ToLower(title), marker)
}

type noFilter struct{}

func (noFilter) Excluded(shopify.Variant) bool { return false }
