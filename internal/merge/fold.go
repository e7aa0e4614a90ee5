package merge

import (
	"fmt"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// foldGroup combines all contributing rows of one sort-key group into at
// most one output row, applying each non-sort column's merge rule. The
// group is ordered newest chunk first; every rule is a pure function of the
// contribution multiset (with chunk IDs as the deterministic tie-break), so
// the fold commutes with merge order.
//
// keep is false when the group contributes no row to the output: an
// elapsed TTL or a non-positive DeleteOneRow counter.
func foldGroup(schema *types.TableSchema, group []contribution, now uint64) (types.Row, bool, error) {
	out := group[0].row.Clone()
	sortLen := schema.SortKeyLen()

	// winners[ci] is the group index of the row holding the Max/Min column
	// ci's winning value, consulted by later WithMax/WithMin columns.
	winners := make(map[int]int)

	for ci := sortLen; ci < len(schema.Columns); ci++ {
		desc := schema.Columns[ci]
		switch desc.Rule {
		case types.RuleIsDeleted:
			// Logical OR: monotone, so deletion survives any merge order.
			deleted := false
			for _, c := range group {
				deleted = deleted || c.row[ci].B
			}
			out[ci] = types.Bool(deleted)

		case types.RuleMax, types.RuleMin:
			best := -1
			for gi, c := range group {
				v := c.row[ci]
				if v.Mark == types.MarkDeleted {
					continue
				}
				if best == -1 {
					best = gi
					continue
				}
				cmp := v.Compare(group[best].row[ci])
				if (desc.Rule == types.RuleMax && cmp > 0) || (desc.Rule == types.RuleMin && cmp < 0) {
					best = gi
				}
			}
			if best == -1 {
				out[ci] = types.Deleted(desc.Kind)
			} else {
				out[ci] = group[best].row[ci]
				winners[ci] = best
			}

		case types.RuleSum:
			switch desc.Kind {
			case types.KindUint:
				var sum uint64
				for _, c := range group {
					if c.row[ci].Mark != types.MarkDeleted {
						sum += c.row[ci].U
					}
				}
				out[ci] = types.Uint(sum)
			case types.KindInt:
				var sum int64
				for _, c := range group {
					if c.row[ci].Mark != types.MarkDeleted {
						sum += c.row[ci].I
					}
				}
				out[ci] = types.Int(sum)
			default:
				return nil, false, errors.NewUnsupportedValue(fmt.Sprintf(
					"Sum column %q must be an integer kind", desc.Name))
			}

		case types.RuleWithMax, types.RuleWithMin:
			ref, _ := schema.ColumnByName(desc.Ref)
			if gi, ok := winners[ref.Index]; ok {
				out[ci] = group[gi].row[ci]
			}
			// No live winner: keep the newest chunk's value already in out.

		case types.RuleTTL:
			// Zero means no expiry; the soonest non-zero TTL wins.
			var soonest uint64
			for _, c := range group {
				ttl := c.row[ci].U
				if ttl != 0 && (soonest == 0 || ttl < soonest) {
					soonest = ttl
				}
			}
			if soonest != 0 && soonest <= now {
				return nil, false, nil
			}
			out[ci] = types.Uint(soonest)

		case types.RuleDeleteOneRow:
			var sum int64
			for _, c := range group {
				sum += c.row[ci].I
			}
			if sum <= 0 {
				return nil, false, nil
			}
			out[ci] = types.Int(sum)
		}
	}
	return out, true, nil
}
