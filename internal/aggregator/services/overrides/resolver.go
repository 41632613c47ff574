// Package overrides corrects heuristic multichain groups with a static
// partOf table: forced unions, self isolation and explicit discards.
package overrides

import (
	"sort"

	"github.com/hxuan190/token-aggregator/internal/aggregator/services/grouping"
	"github.com/hxuan190/token-aggregator/internal/domain"
)

type Input struct {
	Clusters  []grouping.Cluster
	Discarded []domain.TokenRecord
	// Records is every record the heuristic saw. Its order breaks ties when
	// picking the anchor of a merged group.
	Records []domain.TokenRecord
	Order   domain.TokenOrder
	Table   domain.OverrideTable
	Logo    grouping.LogoFunc
}

type Result struct {
	Tokens    []domain.MultichainToken
	Discarded []domain.TokenRecord
}

// Apply resolves the override table against the heuristic output.
//
// Rules per token T with override O:
//   - O.PartOf == nil: T is discarded even if grouped.
//   - O.PartOf lists T: T leaves its heuristic group and stands alone;
//     other tokens may still point at T.
//   - otherwise T is unioned with every listed id present in Records,
//     which may join groups or pull T out of the discarded list.
//
// Tokens without an override keep their heuristic status. Ids absent from
// Records are ignored. Cycles resolve to a single group.
func Apply(in Input) Result {
	records, position := indexRecords(in)
	table := in.Table

	nullified := func(id string) bool {
		o, ok := table[id]
		return ok && o.IsDiscard()
	}
	isolated := func(id string) bool {
		o, ok := table[id]
		return ok && !o.IsDiscard() && o.IsSelfReference(id)
	}

	ds := newDisjointSet(len(records))
	active := make(map[string]bool, len(records))

	for _, cluster := range in.Clusters {
		first := ""
		for _, m := range cluster.Members {
			if nullified(m.ID) || isolated(m.ID) {
				continue
			}
			ds.add(m.ID)
			active[m.ID] = true
			if first == "" {
				first = m.ID
				continue
			}
			ds.union(first, m.ID)
		}
	}

	for _, r := range records {
		o, ok := table[r.ID]
		if !ok || o.IsDiscard() {
			continue
		}
		if isolated(r.ID) {
			ds.add(r.ID)
			active[r.ID] = true
			continue
		}
		for _, target := range o.PartOf {
			if _, present := position[target]; !present || nullified(target) {
				continue
			}
			ds.union(r.ID, target)
			active[r.ID] = true
			active[target] = true
		}
	}

	var roots []string
	members := make(map[string][]domain.TokenRecord)
	var result Result
	for _, r := range records {
		if !active[r.ID] {
			result.Discarded = append(result.Discarded, r)
			continue
		}
		root := ds.find(r.ID)
		if _, ok := members[root]; !ok {
			roots = append(roots, root)
		}
		members[root] = append(members[root], r)
	}

	result.Tokens = make([]domain.MultichainToken, 0, len(roots))
	for _, root := range roots {
		group := members[root]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].TrackedTotalValuePooledUSD > group[j].TrackedTotalValuePooledUSD
		})
		result.Tokens = append(result.Tokens, grouping.Materialize(group, in.Logo))
	}

	SortTokens(result.Tokens, in.Order)
	return result
}

// SortTokens orders multichain tokens by the aggregate metric of order,
// breaking ties by anchor id so the result is deterministic.
func SortTokens(tokens []domain.MultichainToken, order domain.TokenOrder) {
	sort.SliceStable(tokens, func(i, j int) bool {
		vi, vj := order.GroupValue(&tokens[i]), order.GroupValue(&tokens[j])
		if vi != vj {
			return order.Before(vi, vj)
		}
		return tokens[i].AnchorID() < tokens[j].AnchorID()
	})
}

// indexRecords returns the records in a stable order without duplicate ids,
// appending any cluster or discarded member missing from in.Records.
func indexRecords(in Input) ([]domain.TokenRecord, map[string]int) {
	position := make(map[string]int, len(in.Records))
	records := make([]domain.TokenRecord, 0, len(in.Records))
	add := func(r domain.TokenRecord) {
		if _, ok := position[r.ID]; ok {
			return
		}
		position[r.ID] = len(records)
		records = append(records, r)
	}

	for _, r := range in.Records {
		add(r)
	}
	for _, c := range in.Clusters {
		for _, m := range c.Members {
			add(m)
		}
	}
	for _, r := range in.Discarded {
		add(r)
	}
	return records, position
}
