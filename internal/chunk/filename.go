package chunk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tesseradb/tessera/internal/errors"
	"github.com/tesseradb/tessera/pkg/types"
)

// Column file names are the sole source of per-column metadata: they encode
// the column index, name, kind tag and merge-rule tag, so a reader can
// validate schema compatibility without a separate manifest.
//
// Format: NNN_name_kind_rule.col, where kind carries a "d" prefix for
// deletable columns (e.g. "007_payload_dbytes_sum.col"). Column names may
// themselves contain underscores; parsing splits from both ends.
const columnFileSuffix = ".col"

func columnFileName(desc types.ColumnDesc) string {
	kind := desc.Kind.Tag()
	if desc.Deletable {
		kind = "d" + kind
	}
	return fmt.Sprintf("%03d_%s_%s_%s%s", desc.Index, desc.Name, kind, desc.Rule.Tag(), columnFileSuffix)
}

func parseColumnFileName(name string) (types.ColumnDesc, error) {
	base, ok := strings.CutSuffix(name, columnFileSuffix)
	if !ok {
		return types.ColumnDesc{}, errors.NewChunkError(errors.CodeSchemaMismatch,
			fmt.Sprintf("unexpected file %q in chunk directory", name), nil)
	}
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return types.ColumnDesc{}, errors.NewChunkError(errors.CodeSchemaMismatch,
			fmt.Sprintf("malformed column file name %q", name), nil)
	}

	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return types.ColumnDesc{}, errors.NewChunkError(errors.CodeSchemaMismatch,
			fmt.Sprintf("column file %q: bad index", name), err)
	}
	ruleTag := parts[len(parts)-1]
	kindTag := parts[len(parts)-2]
	colName := strings.Join(parts[1:len(parts)-2], "_")

	deletable := false
	if len(kindTag) > 1 && kindTag[0] == 'd' {
		if _, ok := types.KindFromTag(kindTag[1:]); ok {
			deletable = true
			kindTag = kindTag[1:]
		}
	}
	kind, ok := types.KindFromTag(kindTag)
	if !ok {
		return types.ColumnDesc{}, errors.NewChunkError(errors.CodeSchemaMismatch,
			fmt.Sprintf("column file %q: unknown kind tag %q", name, kindTag), nil)
	}
	rule, ok := types.RuleFromTag(ruleTag)
	if !ok {
		return types.ColumnDesc{}, errors.NewChunkError(errors.CodeSchemaMismatch,
			fmt.Sprintf("column file %q: unknown rule tag %q", name, ruleTag), nil)
	}

	return types.ColumnDesc{
		Index:     idx,
		Name:      colName,
		Kind:      kind,
		Deletable: deletable,
		Rule:      rule,
	}, nil
}
