// Package schema holds the metadata model (spec.md component C4):
// columns, indexes, and the per-table statistics the estimator reads from.
package schema

import (
	"strings"

	"github.com/felmond13/videxd/histogram"
)

// KeyRole categorizes a column's participation in keys, mirroring the
// information_schema COLUMN_KEY values MySQL reports.
type KeyRole string

const (
	KeyRoleNone KeyRole = ""
	KeyRolePRI  KeyRole = "PRI"
	KeyRoleUNI  KeyRole = "UNI"
	KeyRoleMUL  KeyRole = "MUL"
)

// Column describes one column of a table.
type Column struct {
	Name          string
	Table         string
	DB            string
	Ordinal       int
	IsNullable    bool
	DataType      string
	ColumnType    string
	KeyRole       KeyRole
	IsPK          bool
	AutoIncrement bool
	EnumCandidates []string
}

// Collation is the direction an index column sorts in.
type Collation string

const (
	Asc  Collation = "asc"
	Desc Collation = "desc"
)

// IndexColumn is one column position within an index. To break the
// Index -> IndexColumn -> Column -> Table cycle (spec.md §9), IndexColumn
// stores the referenced column's identifier rather than a pointer; callers
// resolve it through the owning TableStats.
type IndexColumn struct {
	Name       string // empty when this position is a functional expression
	Expression string
	Collation  Collation
	SubPart    int // prefix length in bytes, 0 = none
	RefDB      string
	RefTable   string
	RefColumn  string
}

func (ic IndexColumn) IsDesc() bool { return ic.Collation == Desc }

// ColumnName returns the column this index position resolves to: Name if
// set, otherwise the name parsed out of a functional Expression.
func (ic IndexColumn) ColumnName() string {
	if ic.Name != "" {
		return ic.Name
	}
	return ParseFunctionalColumnName(ic.Expression)
}

// ParseFunctionalColumnName extracts the referenced column name out of a
// functional index expression, recognizing the
// cast(json_extract(col, …) as <type> array) shape spec.md §4.9 names.
func ParseFunctionalColumnName(expr string) string {
	e := strings.TrimSpace(expr)
	lower := strings.ToLower(e)
	idx := strings.Index(lower, "json_extract(")
	if idx < 0 {
		return ""
	}
	rest := e[idx+len("json_extract("):]
	end := strings.IndexAny(rest, ",)")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

// IndexType enumerates the kinds of index the table can declare.
type IndexType string

const (
	Primary    IndexType = "PRIMARY"
	Unique     IndexType = "UNIQUE"
	Normal     IndexType = "NORMAL"
	ForeignKey IndexType = "FOREIGN_KEY"
)

// Index describes one index over a table: its ordered columns and
// visibility/uniqueness flags.
type Index struct {
	Name      string
	Type      IndexType
	Columns   []IndexColumn
	IsUnique  bool
	IsVisible bool
}

// SampleFileInfo records where a crawler-produced row sample lives, so a
// sample-based NDV estimator (or a future one) can locate it. This server
// never samples itself; it only accepts and round-trips this bookkeeping.
type SampleFileInfo struct {
	LocalPathPrefix string
	SampleRows      int64
	SampleFiles     []string
	BlockSizes      []int64
}

// TableStats aggregates everything the estimator needs about one table:
// row count, per-index sizes, per-column NDV, per-(index,prefix) NDV,
// histograms, and measured buffer-pool residency.
type TableStats struct {
	DB       string
	Name     string
	Records  int64
	Deleted  int64

	ClusteredIndexSize   int64
	SumOfOtherIndexSizes int64
	DataFileLength       int64
	IndexFileLength      int64
	DataFreeLength       int64
	AvgRowLength         int64

	Columns []Column
	Indexes []Index

	// PctCached maps index name -> measured buffer-pool residency [0,1].
	PctCached map[string]float64
	// DefaultPctCached is used when an index is absent from PctCached;
	// chosen at task load time (0 or 1, spec.md §4.4).
	DefaultPctCached float64

	NDVSingle map[string]int64            // column -> NDV
	NDVMulcol map[string]map[string]int64 // index -> (joined prefix key -> NDV)

	ColHists map[string]*histogram.Stats // column -> histogram

	SampleFileInfo *SampleFileInfo

	// GTReturn, if non-nil, replaces model output with ground truth for
	// this table when the request opts in (spec.md §4.6).
	GTReturn *GTTable
}

// GTTable maps an index name to the recorded (range_string, rows) pairs
// harvested from replaying EXPLAIN/trace on a real engine.
type GTTable map[string][]GTEntry

// GTEntry is one ground-truth row count for a decoded range string.
type GTEntry struct {
	RangeString string
	Rows        int64
}

// Column looks up a column by name, case-insensitively.
func (ts *TableStats) Column(name string) (*Column, bool) {
	for i := range ts.Columns {
		if strings.EqualFold(ts.Columns[i].Name, name) {
			return &ts.Columns[i], true
		}
	}
	return nil, false
}

// Index looks up an index by name, case-insensitively.
func (ts *TableStats) Index(name string) (*Index, bool) {
	for i := range ts.Indexes {
		if strings.EqualFold(ts.Indexes[i].Name, name) {
			return &ts.Indexes[i], true
		}
	}
	return nil, false
}

// GetColHist returns the histogram for a column, or nil if absent.
func (ts *TableStats) GetColHist(col string) *histogram.Stats {
	if ts.ColHists == nil {
		return nil
	}
	return ts.ColHists[strings.ToLower(col)]
}

// GetNDVSingle returns the single-column NDV, or (0, false) if absent.
func (ts *TableStats) GetNDVSingle(col string) (int64, bool) {
	if ts.NDVSingle == nil {
		return 0, false
	}
	n, ok := ts.NDVSingle[strings.ToLower(col)]
	return n, ok
}

// PrefixKey joins a column prefix into the canonical key used by NDVMulcol.
func PrefixKey(cols []string) string {
	lower := make([]string, len(cols))
	for i, c := range cols {
		lower[i] = strings.ToLower(c)
	}
	return strings.Join(lower, "\x1f")
}

// GetNDVMulcol returns the measured multi-column NDV for an (index, prefix)
// pair if present, otherwise falls back to the independence estimate
// min(records, product of single-column NDVs), per spec.md §4.4.
func (ts *TableStats) GetNDVMulcol(index string, prefixCols []string) int64 {
	if ts.NDVMulcol != nil {
		if byIndex, ok := ts.NDVMulcol[strings.ToLower(index)]; ok {
			if n, ok := byIndex[PrefixKey(prefixCols)]; ok {
				return n
			}
		}
	}
	return ts.independenceNDV(prefixCols)
}

func (ts *TableStats) independenceNDV(prefixCols []string) int64 {
	product := int64(1)
	for _, c := range prefixCols {
		n, ok := ts.GetNDVSingle(c)
		if !ok || n <= 0 {
			n = 1
		}
		product *= n
		if product > ts.Records && ts.Records > 0 {
			return ts.Records
		}
	}
	if ts.Records > 0 && product > ts.Records {
		return ts.Records
	}
	return product
}

// GetPctCached returns the measured buffer-pool residency for an index, or
// the table's configured default when unmeasured.
func (ts *TableStats) GetPctCached(index string) float64 {
	if ts.PctCached != nil {
		if v, ok := ts.PctCached[strings.ToLower(index)]; ok {
			return v
		}
	}
	return ts.DefaultPctCached
}
