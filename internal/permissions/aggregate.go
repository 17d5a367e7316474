package permissions

import "github.com/google/uuid"

// Aggregate merges grants that target the same resource, or the global bucket,
// into one grant per target by OR-ing their bitmasks. Synthesized grants carry
// no ID or RoleID. Output order follows the first occurrence of each target.
func Aggregate(grants []Grant) []Grant {
	if len(grants) == 0 {
		return []Grant{}
	}
	out := make([]Grant, 0, len(grants))
	index := make(map[uuid.UUID]int, len(grants))
	global := -1
	for _, g := range grants {
		if g.ResourceID == nil {
			if global < 0 {
				global = len(out)
				out = append(out, Grant{Kind: g.Kind})
			}
			out[global].Bitmask |= g.Bitmask
			continue
		}
		i, ok := index[*g.ResourceID]
		if !ok {
			i = len(out)
			index[*g.ResourceID] = i
			id := *g.ResourceID
			out = append(out, Grant{Kind: g.Kind, ResourceID: &id})
		}
		out[i].Bitmask |= g.Bitmask
	}
	return out
}
