package domain

import "sort"

// Override corrects the grouping heuristic for one token id.
// A nil PartOf discards the token; otherwise the token is forced into the
// group of every listed id. Listing the token's own id isolates it.
type Override struct {
	PartOf []string `json:"partOf"`
}

func (o Override) IsDiscard() bool {
	return o.PartOf == nil
}

// IsSelfReference reports whether the override lists tokenID itself.
func (o Override) IsSelfReference(tokenID string) bool {
	for _, id := range o.PartOf {
		if id == tokenID {
			return true
		}
	}
	return false
}

// OverrideTable maps token ids to their override. It is treated as immutable
// once handed to the resolver; writers build a new table and swap it in.
type OverrideTable map[string]Override

// Clone returns a deep copy of the table.
func (t OverrideTable) Clone() OverrideTable {
	out := make(OverrideTable, len(t))
	for id, o := range t {
		if o.PartOf == nil {
			out[id] = Override{}
			continue
		}
		partOf := make([]string, len(o.PartOf))
		copy(partOf, o.PartOf)
		out[id] = Override{PartOf: partOf}
	}
	return out
}

// LinkedIDs returns every token id connected to any of ids by an override
// edge, in either direction, excluding ids themselves.
func (t OverrideTable) LinkedIDs(ids []string) []string {
	in := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		in[id] = struct{}{}
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if _, ok := in[id]; ok {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	for _, id := range ids {
		if o, ok := t[id]; ok {
			for _, target := range o.PartOf {
				add(target)
			}
		}
	}
	for source, o := range t {
		for _, target := range o.PartOf {
			if _, ok := in[target]; ok {
				add(source)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}
