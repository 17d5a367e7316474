package permissions

import "github.com/google/uuid"

// Set is a read-only view over grants of one resource kind. It does not merge
// grants; use Aggregate for that.
type Set struct {
	grants []Grant
}

// NewSet wraps grants. The slice is copied.
func NewSet(grants []Grant) Set {
	cp := make([]Grant, len(grants))
	copy(cp, grants)
	return Set{grants: cp}
}

// Grants returns the grants in the set.
func (s Set) Grants() []Grant {
	cp := make([]Grant, len(s.grants))
	copy(cp, s.grants)
	return cp
}

// Len returns the number of grants.
func (s Set) Len() int {
	return len(s.grants)
}

// HasGlobalAccess reports whether any grant has no resource.
func (s Set) HasGlobalAccess() bool {
	for _, g := range s.grants {
		if g.IsGlobal() {
			return true
		}
	}
	return false
}

// AccessibleResourceIDs lists distinct resource ids in first-seen order.
// Global grants are not represented here.
func (s Set) AccessibleResourceIDs() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(s.grants))
	ids := make([]uuid.UUID, 0, len(s.grants))
	for _, g := range s.grants {
		if g.ResourceID == nil {
			continue
		}
		if _, ok := seen[*g.ResourceID]; ok {
			continue
		}
		seen[*g.ResourceID] = struct{}{}
		ids = append(ids, *g.ResourceID)
	}
	return ids
}

// FilterByBit keeps the grants whose own bitmask contains bit.
func (s Set) FilterByBit(bit Bitmask) Set {
	kept := make([]Grant, 0, len(s.grants))
	for _, g := range s.grants {
		if Has(g.Bitmask, bit) {
			kept = append(kept, g)
		}
	}
	return Set{grants: kept}
}

// MaskFor returns the union of the global grants and the grants on resourceID.
func (s Set) MaskFor(resourceID uuid.UUID) Bitmask {
	var mask Bitmask
	for _, g := range s.grants {
		if g.Applies(resourceID) {
			mask |= g.Bitmask
		}
	}
	return mask
}

// Allows reports whether bit is held on resourceID, counting global grants.
func (s Set) Allows(resourceID uuid.UUID, bit Bitmask) bool {
	return Has(s.MaskFor(resourceID), bit)
}
