// Package metabuild constructs schema.TableStats from the loosely-typed
// maps a task payload carries (spec.md component C9): merging per-column
// histograms and NDV maps onto a row-count/index skeleton, backfilling
// index metadata, and estimating any size field the payload left out.
package metabuild

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/felmond13/videxd/histogram"
	"github.com/felmond13/videxd/schema"
)

// ValidationError is returned when a payload is structurally inconsistent:
// an index references an unknown column, or a table declares zero rows.
type ValidationError struct {
	Table  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("metabuild: table %q: %s", e.Table, e.Reason)
}

// Input is the per-table raw material construct_task_meta merges,
// mirroring the four-map ingestion shape spec.md §4.7 describes.
type Input struct {
	DB      string
	Table   string
	Records int64
	Deleted int64

	Columns []schema.Column
	Indexes []schema.Index

	ClusteredIndexSize   int64 // 0 means "estimate"
	SumOfOtherIndexSizes int64
	DataFileLength       int64
	IndexFileLength      int64
	DataFreeLength       int64
	AvgRowLength         int64

	PctCached        map[string]float64
	DefaultPctCached float64

	NDVSingle map[string]int64
	NDVMulcol map[string]map[string]int64
	ColHists  map[string]*histogram.Stats

	SampleFileInfo *schema.SampleFileInfo
	GTReturn       *schema.GTTable
}

// Construct builds a validated schema.TableStats from in, per spec.md
// §4.9: lowercases the table name, backfills db/table on every index and
// index column, resolves functional index column names, rescales each
// histogram via histogram.Stats.Validate, and fills in any size field left
// at zero via row-width/index-layout estimation.
func Construct(in Input) (*schema.TableStats, error) {
	table := strings.ToLower(in.Table)
	if in.Records <= 0 {
		return nil, &ValidationError{Table: table, Reason: "table declares zero rows"}
	}

	colIndex := make(map[string]*schema.Column, len(in.Columns))
	for i := range in.Columns {
		in.Columns[i].DB = in.DB
		in.Columns[i].Table = table
		colIndex[strings.ToLower(in.Columns[i].Name)] = &in.Columns[i]
	}

	for i := range in.Indexes {
		idx := &in.Indexes[i]
		for j := range idx.Columns {
			ic := &idx.Columns[j]
			ic.RefDB = in.DB
			ic.RefTable = table
			name := ic.Name
			if name == "" {
				name = schema.ParseFunctionalColumnName(ic.Expression)
				ic.RefColumn = name
			} else {
				ic.RefColumn = name
			}
			if name == "" {
				continue // purely functional expression this parser can't resolve; not an error
			}
			if _, ok := colIndex[strings.ToLower(name)]; !ok {
				return nil, &ValidationError{Table: table, Reason: fmt.Sprintf("index %q references unknown column %q", idx.Name, name)}
			}
		}
	}

	ts := &schema.TableStats{
		DB:                   in.DB,
		Name:                 table,
		Records:              in.Records,
		Deleted:              in.Deleted,
		Columns:              in.Columns,
		Indexes:              in.Indexes,
		ClusteredIndexSize:   in.ClusteredIndexSize,
		SumOfOtherIndexSizes: in.SumOfOtherIndexSizes,
		DataFileLength:       in.DataFileLength,
		IndexFileLength:      in.IndexFileLength,
		DataFreeLength:       in.DataFreeLength,
		AvgRowLength:         in.AvgRowLength,
		PctCached:            lowerKeys(in.PctCached),
		DefaultPctCached:     in.DefaultPctCached,
		NDVSingle:            lowerKeys(in.NDVSingle),
		NDVMulcol:            lowerNestedKeys(in.NDVMulcol),
		ColHists:             lowerHistKeys(in.ColHists),
		SampleFileInfo:       in.SampleFileInfo,
		GTReturn:             in.GTReturn,
	}

	for col, h := range ts.ColHists {
		if h == nil {
			continue
		}
		if err := h.Validate(); err != nil {
			return nil, &ValidationError{Table: table, Reason: fmt.Sprintf("column %q: %v", col, err)}
		}
	}

	estimateSizes(ts)
	return ts, nil
}

func lowerKeys[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func lowerNestedKeys(m map[string]map[string]int64) map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]map[string]int64, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func lowerHistKeys(m map[string]*histogram.Stats) map[string]*histogram.Stats {
	if m == nil {
		return nil
	}
	out := make(map[string]*histogram.Stats, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

// ---------- size estimation, ported from estimate_stats_length.py ----------

var columnTypePattern = regexp.MustCompile(`^([a-z]+)(\((.+?)\))?`)

// estimateColumnLength estimates the on-disk width of one row's value for
// a MySQL column type string such as "int" or "varchar(255)".
func estimateColumnLength(colType string) float64 {
	colType = strings.ToLower(strings.TrimSpace(colType))
	m := columnTypePattern.FindStringSubmatch(colType)
	if m == nil {
		return 0
	}
	base, params := m[1], m[3]
	switch base {
	case "int", "integer":
		return 4
	case "bigint":
		return 8
	case "smallint":
		return 2
	case "tinyint":
		return 1
	case "mediumint":
		return 3
	case "float":
		return 4
	case "double":
		return 8
	case "decimal":
		return 8
	case "timestamp":
		return 4
	case "date":
		return 3
	case "datetime":
		return 8
	case "char":
		if n, ok := firstIntParam(params); ok {
			return float64(n)
		}
		return 1
	case "varchar":
		if n, ok := firstIntParam(params); ok {
			return float64(n) / 2
		}
		return 1
	case "text", "blob":
		return 100
	default:
		return 50
	}
}

// estimateIndexKeyLength estimates the width a column occupies as part of
// an index key (prefix-truncated for variable-length fields).
func estimateIndexKeyLength(colType string) float64 {
	colType = strings.ToLower(strings.TrimSpace(colType))
	m := columnTypePattern.FindStringSubmatch(colType)
	if m == nil {
		return 0
	}
	base, params := m[1], m[3]
	switch base {
	case "int", "integer", "bigint", "smallint", "tinyint", "mediumint",
		"float", "double", "decimal", "timestamp", "date", "datetime", "char":
		return estimateColumnLength(colType)
	case "varchar":
		if n, ok := firstIntParam(params); ok {
			if n > 255 {
				n = 255
			}
			return float64(n) / 2
		}
		return 1
	case "text", "blob":
		return 255.0 / 2
	default:
		return 50
	}
}

func firstIntParam(params string) (int, bool) {
	if params == "" {
		return 0, false
	}
	head := strings.Split(params, ",")[0]
	n, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return 0, false
	}
	return n, true
}

const (
	primaryKeyRefLength  = 8
	indexEntryOverhead   = 10
	fillFactorMultiplier = 1.2
	indexPageSize        = 16 * 1024
	pageFillRatio        = 0.7
	pointerSize          = 6
	fixRowOverhead       = 10
)

// estimateTotalIndexLength sums, over every index, a weighted combination
// of a direct row-count estimate and a page-count estimate.
func estimateTotalIndexLength(rows int64, indexes []schema.Index, columns []schema.Column) float64 {
	colType := make(map[string]string, len(columns))
	for _, c := range columns {
		colType[strings.ToLower(c.Name)] = c.ColumnType
	}

	total := 0.0
	for _, idx := range indexes {
		keyLength := 0.0
		for _, ic := range idx.Columns {
			name := ic.ColumnName()
			if ct, ok := colType[strings.ToLower(name)]; ok {
				keyLength += estimateIndexKeyLength(ct)
			} else {
				keyLength += 50
			}
		}

		var recordLength float64
		if idx.Type == schema.Primary {
			recordLength = keyLength + indexEntryOverhead
		} else {
			recordLength = keyLength + primaryKeyRefLength + indexEntryOverhead
		}

		byRows := float64(rows) * recordLength * fillFactorMultiplier

		effectiveRecordSize := recordLength + pointerSize
		recordsPerPage := float64(rows)
		if effectiveRecordSize > 0 {
			recordsPerPage = (indexPageSize * pageFillRatio) / effectiveRecordSize
		}
		numPages := 0.0
		if recordsPerPage > 0 {
			numPages = math.Ceil(float64(rows) / recordsPerPage)
		}
		byPages := numPages * indexPageSize

		const weight1 = 0.5
		total += weight1*byRows + (1-weight1)*byPages
	}
	return total
}

// estimateSizes fills in any size field ts's input left at zero, per
// spec.md §4.9. Row width and index length are estimated from the schema;
// when that leaves a non-positive result, the last-resort
// 20%-index/10%-free/remainder-data split applies against the rows-based
// data-length estimate used as a stand-in table size.
func estimateSizes(ts *schema.TableStats) {
	baseRowLength := 0.0
	for _, c := range ts.Columns {
		baseRowLength += estimateColumnLength(c.ColumnType)
	}
	avgRowLength := baseRowLength + fixRowOverhead
	if avgRowLength <= 0 {
		avgRowLength = 1
	}
	if ts.AvgRowLength <= 0 {
		ts.AvgRowLength = int64(avgRowLength)
	}

	estimatedByRows := float64(ts.Records) * avgRowLength

	if ts.IndexFileLength <= 0 {
		totalIndex := estimateTotalIndexLength(ts.Records, ts.Indexes, ts.Columns)
		if totalIndex <= 0 {
			totalIndex = math.Max(1, estimatedByRows*0.1)
		}
		ts.IndexFileLength = int64(totalIndex)
	}

	if ts.DataFileLength <= 0 {
		remaining := estimatedByRows
		if remaining <= 0 {
			tableSize := estimatedByRows + float64(ts.IndexFileLength)
			ts.IndexFileLength = int64(tableSize * 0.2)
			ts.DataFreeLength = int64(tableSize * 0.1)
			remaining = tableSize - float64(ts.IndexFileLength) - float64(ts.DataFreeLength)
		}
		ts.DataFileLength = int64(remaining)
	}

	if ts.ClusteredIndexSize <= 0 {
		ts.ClusteredIndexSize = ts.DataFileLength
	}
	if ts.SumOfOtherIndexSizes <= 0 {
		ts.SumOfOtherIndexSizes = ts.IndexFileLength
	}
}
