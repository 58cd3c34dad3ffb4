// Package rangecond implements the range-condition decoder (spec.md
// component C3): it reconstructs single- and multi-column B-tree
// predicates from the raw (min-key, max-key) pair the optimizer sends, and
// matches decoded predicates against recorded ground truth strings.
package rangecond

import (
	"fmt"
	"log"
	"strings"

	"github.com/felmond13/videxd/histogram"
	"github.com/felmond13/videxd/schema"
	"github.com/felmond13/videxd/value"
)

// Op is a raw comparison operator, accepted either as the bare symbol or as
// the HaRKeyFunction name MySQL's handler interface uses internally
// (spec.md §7's supplemented feature 2).
type Op string

const (
	OpEQ  Op = "="
	OpGT  Op = ">"
	OpGTE Op = ">="
	OpLT  Op = "<"
	OpLTE Op = "<="
)

var haReadKeyFunctionNames = map[string]Op{
	"=":                   OpEQ,
	">":                   OpGT,
	">=":                  OpGTE,
	"<":                   OpLT,
	"<=":                  OpLTE,
	"HA_READ_KEY_EXACT":   OpEQ,
	"HA_READ_AFTER_KEY":   OpGT,
	"HA_READ_OR_NEXT":     OpGTE,
	"HA_READ_KEY_OR_NEXT": OpGTE,
	"HA_READ_BEFORE_KEY":  OpLT,
	"HA_READ_KEY_OR_PREV": OpLTE,
}

// NormalizeOp accepts either a bare operator symbol or an HaRKeyFunction
// name and returns the canonical Op, or ("", false) if unrecognized.
func NormalizeOp(raw string) (Op, bool) {
	op, ok := haReadKeyFunctionNames[strings.TrimSpace(raw)]
	return op, ok
}

var minValidOps = map[string]bool{"=": true, ">": true, ">=": true}
var maxValidOps = map[string]bool{"=": true, "<": true, "<=": true}

// RangeCond is a single-column predicate: min/max bounds with their
// operator and the B-tree side the bound sits on.
type RangeCond struct {
	Col      string
	DataType string

	MinValue   *value.Value
	MinOp      string
	MinSide    histogram.Side
	hasMinSide bool

	MaxValue   *value.Value
	MaxOp      string
	MaxSide    histogram.Side
	hasMaxSide bool
}

// AddMin sets the lower bound. op must be one of "=", ">", ">=".
func (r *RangeCond) AddMin(op string, v value.Value, side histogram.Side) error {
	if !minValidOps[op] {
		return fmt.Errorf("rangecond: invalid min_op %q", op)
	}
	r.MinValue = &v
	r.MinOp = op
	r.MinSide = side
	r.hasMinSide = true
	return nil
}

// AddMax sets the upper bound. op must be one of "=", "<", "<=".
func (r *RangeCond) AddMax(op string, v value.Value, side histogram.Side) error {
	if !maxValidOps[op] {
		return fmt.Errorf("rangecond: invalid max_op %q", op)
	}
	r.MaxValue = &v
	r.MaxOp = op
	r.MaxSide = side
	r.hasMaxSide = true
	return nil
}

func (r *RangeCond) HasMin() bool { return r.MinOp != "" }
func (r *RangeCond) HasMax() bool { return r.MaxOp != "" }
func (r *RangeCond) Valid() bool  { return r.HasMin() || r.HasMax() }

// IsSinglepoint reports whether this condition is an equality, mirroring
// SEL_ARG::is_singlepoint.
func (r *RangeCond) IsSinglepoint() bool { return r.MinOp == "=" }

// ConstructEQ builds an equality RangeCond: min side left, max side right.
func ConstructEQ(col, dataType string, v value.Value) RangeCond {
	r := RangeCond{Col: col, DataType: dataType}
	r.MinValue, r.MaxValue = &v, &v
	r.MinOp, r.MaxOp = "=", "="
	r.MinSide, r.hasMinSide = histogram.Left, true
	r.MaxSide, r.hasMaxSide = histogram.Right, true
	return r
}

var reverseOp = map[string]string{">": "<", ">=": "<=", "<": ">", "<=": ">="}

// AllPossibleStrs enumerates every reversible textual rendering of this
// condition, used to bind ground-truth range strings regardless of operand
// order (spec.md §4.3 match semantics; supplemented feature 1).
func (r *RangeCond) AllPossibleStrs() []string {
	var res []string
	minStr := valStr(r.MinValue)
	maxStr := valStr(r.MaxValue)

	switch {
	case r.MinOp == "=":
		res = append(res, fmt.Sprintf("%s = %s", r.Col, minStr))
		res = append(res, fmt.Sprintf("%s = %s", minStr, r.Col))
	case r.MinOp != "" && r.MaxOp != "":
		revMin := reverseOp[r.MinOp]
		res = append(res, fmt.Sprintf("%s %s %s %s %s", minStr, revMin, r.Col, r.MaxOp, maxStr))
	case r.MinOp != "":
		revMin := reverseOp[r.MinOp]
		res = append(res, fmt.Sprintf("%s %s %s", r.Col, r.MinOp, minStr))
		res = append(res, fmt.Sprintf("%s %s %s", minStr, revMin, r.Col))
	}
	if r.MaxOp != "" {
		revMax := reverseOp[r.MaxOp]
		res = append(res, fmt.Sprintf("%s %s %s", r.Col, r.MaxOp, maxStr))
		res = append(res, fmt.Sprintf("%s %s %s", maxStr, revMax, r.Col))
		res = append(res, fmt.Sprintf("%s %s %s > 'NULL'", maxStr, revMax, r.Col))
		res = append(res, fmt.Sprintf("'NULL' < %s %s %s", r.Col, r.MaxOp, maxStr))
	}
	return res
}

func valStr(v *value.Value) string {
	if v == nil {
		return ""
	}
	return value.Encode(*v, "")
}

func (r *RangeCond) String() string {
	strs := r.AllPossibleStrs()
	if len(strs) == 0 {
		return "None"
	}
	return strs[0]
}

// IndexRangeCond is a decoded predicate over one index: one RangeCond per
// key column, equalities preceding the (at most one) trailing inequality.
type IndexRangeCond struct {
	IndexName string
	Ranges    []RangeCond
}

func (irc *IndexRangeCond) String() string {
	parts := make([]string, len(irc.Ranges))
	for i := range irc.Ranges {
		parts[i] = irc.Ranges[i].String()
	}
	return irc.IndexName + ": " + strings.Join(parts, " AND ")
}

// SideKey is one side (min or max) of the optimizer's key_range pair.
type SideKey struct {
	IndexName string
	Operator  string
	Columns   []ColumnBound
}

// ColumnBound is one column/value pair within a SideKey.
type ColumnBound struct {
	Column string
	Value  string // raw wire value, or the literal string "NULL"
}

// DataTypeFunc resolves a column's declared data type, used to decode its
// literal value.
type DataTypeFunc func(column string) string

// Decode reconstructs an IndexRangeCond from the optimizer's min/max key
// pair, per spec.md §4.3. indexCols supplies per-position collation so
// descending columns get their operators mirrored.
func Decode(min, max SideKey, indexCols []schema.IndexColumn, dataTypeOf DataTypeFunc) (*IndexRangeCond, error) {
	indexName := min.IndexName
	if indexName == "" {
		indexName = max.IndexName
	}
	result := &IndexRangeCond{IndexName: indexName}

	nCol := len(min.Columns)
	if len(max.Columns) > nCol {
		nCol = len(max.Columns)
	}
	if abs(len(min.Columns)-len(max.Columns)) > 1 {
		log.Printf("rangecond: min_key and max_key length differ by more than 1 (min=%d, max=%d)", len(min.Columns), len(max.Columns))
		return result, nil
	}

	for c := 0; c < nCol; c++ {
		isDesc := false
		if c < len(indexCols) {
			isDesc = indexCols[c].IsDesc()
		}

		hasMin := c < len(min.Columns)
		hasMax := c < len(max.Columns)
		if !hasMin && !hasMax {
			log.Printf("rangecond: boundary without min and max at position %d", c)
			return result, nil
		}

		var col string
		if hasMin {
			col = min.Columns[c].Column
		} else {
			col = max.Columns[c].Column
		}
		dataType := dataTypeOf(col)

		var minRaw, maxRaw string
		if hasMin {
			minRaw = min.Columns[c].Value
		}
		if hasMax {
			maxRaw = max.Columns[c].Value
		}

		if hasMin && hasMax && minRaw == maxRaw {
			v, err := decodeOrNull(minRaw, dataType)
			if err != nil {
				return nil, err
			}
			result.Ranges = append(result.Ranges, ConstructEQ(col, dataType, v))
			continue
		}

		rc := RangeCond{Col: col, DataType: dataType}
		if hasMin {
			op, ok := NormalizeOp(min.Operator)
			if !ok {
				log.Printf("rangecond: unrecognized min operator %q", min.Operator)
			} else {
				v, err := decodeOrNull(minRaw, dataType)
				if err != nil {
					return nil, err
				}
				if err := applyMinBound(&rc, op, v, isDesc); err != nil {
					return nil, err
				}
			}
		}
		if hasMax {
			op, ok := NormalizeOp(max.Operator)
			if !ok {
				log.Printf("rangecond: unrecognized max operator %q", max.Operator)
			} else {
				v, err := decodeOrNull(maxRaw, dataType)
				if err != nil {
					return nil, err
				}
				if err := applyMaxBound(&rc, op, v, isDesc); err != nil {
					return nil, err
				}
			}
		}
		result.Ranges = append(result.Ranges, rc)
	}
	return result, nil
}

func decodeOrNull(raw, dataType string) (value.Value, error) {
	if raw == "NULL" {
		return value.Null, nil
	}
	return value.Decode(raw, dataType)
}

// applyMinBound implements spec.md §4.3's translation table for the min
// side, mirroring the operator/side when the index column is descending.
func applyMinBound(rc *RangeCond, op Op, v value.Value, isDesc bool) error {
	switch op {
	case OpEQ:
		if !isDesc {
			return rc.AddMin(">=", v, histogram.Left)
		}
		return rc.AddMax("<=", v, histogram.Right)
	case OpGT:
		if !isDesc {
			return rc.AddMin(">", v, histogram.Right)
		}
		return rc.AddMax("<", v, histogram.Left)
	case OpGTE:
		if !isDesc {
			return rc.AddMin(">=", v, histogram.Left)
		}
		return rc.AddMax("<=", v, histogram.Right)
	}
	return nil
}

// applyMaxBound implements spec.md §4.3's translation table for the max
// side.
func applyMaxBound(rc *RangeCond, op Op, v value.Value, isDesc bool) error {
	switch op {
	case OpGT:
		if !isDesc {
			return rc.AddMax("<=", v, histogram.Right)
		}
		return rc.AddMin(">=", v, histogram.Left)
	case OpLT:
		if !isDesc {
			return rc.AddMax("<", v, histogram.Left)
		}
		return rc.AddMin(">", v, histogram.Right)
	case OpLTE:
		if !isDesc {
			return rc.AddMax("<=", v, histogram.Right)
		}
		return rc.AddMin(">=", v, histogram.Left)
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// GetValidRanges returns the leading prefix of Ranges up to and including
// the first inequality, or the full slice when ignoreRangeAfterNeq is
// false. Standardized to true for the InnoDB-like strategy, false only in
// tests (spec.md §9 Open Question).
func (irc *IndexRangeCond) GetValidRanges(ignoreRangeAfterNeq bool) []RangeCond {
	if !ignoreRangeAfterNeq {
		return irc.Ranges
	}
	var out []RangeCond
	for _, rc := range irc.Ranges {
		out = append(out, rc)
		if !rc.IsSinglepoint() {
			break
		}
	}
	return out
}

// Match reports whether rangeStr (ground truth's own textual rendering,
// columns joined by " AND ") matches this decoded predicate under any of
// its reversible textual forms.
func (irc *IndexRangeCond) Match(rangeStr string, ignoreRangeAfterNeq bool) bool {
	parts := strings.Split(rangeStr, " AND ")
	cmpRanges := irc.GetValidRanges(ignoreRangeAfterNeq)
	if len(parts) != len(cmpRanges) {
		return false
	}
	for i, cond := range cmpRanges {
		candidate := strings.TrimSpace(parts[i])
		found := false
		for _, s := range cond.AllPossibleStrs() {
			if candidate == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
