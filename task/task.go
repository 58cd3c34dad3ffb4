// Package task implements the task registry (spec.md component C7): a
// process-wide map from task_id to per-database, per-table metadata, kept
// consistent for concurrent readers via single-writer/many-readers
// pointer swaps, and gzip-transparent ingestion of either payload shape
// the optimizer's crawler sends.
package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/klauspost/compress/gzip"

	"github.com/felmond13/videxd/histogram"
	"github.com/felmond13/videxd/metabuild"
	"github.com/felmond13/videxd/schema"
	"github.com/felmond13/videxd/tasklock"
)

// Registry maps task_id -> videx_db -> table -> TableStats. Reads never
// block: they load a single atomic pointer to an immutable snapshot.
// Writes build a whole new snapshot and swap the pointer, so an in-flight
// reader always sees either the old or the new task in full.
type Registry struct {
	tasks atomic.Pointer[map[string]taskEntry]
	locks *tasklock.Manager
}

type taskEntry struct {
	dbs map[string]map[string]*schema.TableStats // db -> table -> stats
}

// New creates an empty registry. policy governs contention between
// concurrent writers to the same task_id.
func New(policy tasklock.Policy) *Registry {
	r := &Registry{locks: tasklock.New(policy)}
	empty := map[string]taskEntry{}
	r.tasks.Store(&empty)
	return r
}

// Lookup returns a table's metadata, case-insensitive on db and table.
func (r *Registry) Lookup(taskID, db, table string) (*schema.TableStats, bool) {
	tasks := *r.tasks.Load()
	entry, ok := tasks[strings.ToLower(taskID)]
	if !ok {
		return nil, false
	}
	tables, ok := entry.dbs[strings.ToLower(db)]
	if !ok {
		return nil, false
	}
	ts, ok := tables[strings.ToLower(table)]
	return ts, ok
}

// Drop removes a task_id's entire entry.
func (r *Registry) Drop(taskID string) {
	r.locks.Release(strings.ToLower(taskID)) // release any waiter before the entry disappears
	for {
		old := r.tasks.Load()
		next := make(map[string]taskEntry, len(*old))
		for k, v := range *old {
			next[k] = v
		}
		delete(next, strings.ToLower(taskID))
		if r.tasks.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Payload is the task document create_task_meta accepts. Ingest supports
// either shape spec.md §4.7 describes: Tables carries the pre-merged
// document (shape b); Stats/Histograms/NDVSingle/NDVMulcol carry the
// four-map shape (a), merged per table before construction.
type Payload struct {
	TaskID  string `json:"task_id"`
	VidexDB string `json:"videx_db"`

	Tables map[string]TableDoc `json:"tables,omitempty"`

	Stats      map[string]TableDoc                          `json:"stats,omitempty"`
	Histograms map[string]map[string]*histogram.Stats       `json:"histograms,omitempty"`
	NDVSingle  map[string]map[string]int64                  `json:"ndv_single,omitempty"`
	NDVMulcol  map[string]map[string]map[string]int64        `json:"ndv_mulcol,omitempty"`
}

// TableDoc is one table's raw metadata as it arrives on the wire,
// mirroring the original Table/Column/Index model's field names.
type TableDoc struct {
	Name    string          `json:"name"`
	Rows    int64           `json:"rows"`
	Deleted int64           `json:"deleted,omitempty"`

	AvgRowLength     int64 `json:"avg_row_length,omitempty"`
	DataLength       int64 `json:"data_length,omitempty"`
	IndexLength      int64 `json:"index_length,omitempty"`
	DataFree         int64 `json:"data_free,omitempty"`
	ClusterIndexSize int64 `json:"cluster_index_size,omitempty"`
	OtherIndexSizes  int64 `json:"other_index_sizes,omitempty"`

	Columns []ColumnDoc `json:"columns,omitempty"`
	Indexes []IndexDoc  `json:"indexes,omitempty"`

	PctCached        map[string]float64 `json:"pct_cached,omitempty"`
	DefaultPctCached float64             `json:"default_pct_cached,omitempty"`

	NDVSingle map[string]int64                  `json:"ndv_single,omitempty"`
	NDVMulcol map[string]map[string]int64        `json:"ndv_mulcol,omitempty"`
	ColHists  map[string]*histogram.Stats        `json:"col_hists,omitempty"`

	SampleFileInfo *schema.SampleFileInfo `json:"sample_file_info,omitempty"`
	GTReturn       *schema.GTTable        `json:"gt_return,omitempty"`
}

// ColumnDoc mirrors meta.py's Column wire shape.
type ColumnDoc struct {
	Name          string   `json:"name"`
	IsNullable    bool     `json:"is_nullable,omitempty"`
	DataType      string   `json:"data_type"`
	ColumnType    string   `json:"column_type"`
	ColumnKey     string   `json:"column_key,omitempty"`
	IsPK          bool     `json:"is_pk,omitempty"`
	AutoIncrement bool     `json:"auto_increment,omitempty"`
	EnumCandidates []string `json:"enum_candidates,omitempty"`
}

// IndexColumnDoc mirrors meta.py's IndexColumn wire shape.
type IndexColumnDoc struct {
	Name       string `json:"name,omitempty"`
	Expression string `json:"expression,omitempty"`
	Collation  string `json:"collation,omitempty"`
	SubPart    int    `json:"sub_part,omitempty"`
}

// IndexDoc mirrors meta.py's Index wire shape.
type IndexDoc struct {
	Name      string           `json:"name"`
	Type      string           `json:"type"`
	Columns   []IndexColumnDoc `json:"columns"`
	IsUnique  bool             `json:"is_unique,omitempty"`
	IsVisible bool             `json:"is_visible,omitempty"`
}

// DecodeGzip transparently decompresses body when contentEncoding is
// "gzip", per spec.md §4.7/§6. maxBytes bounds the decompressed size to
// guard against a decompression bomb (spec.md §5's resource policy).
func DecodeGzip(body []byte, contentEncoding string, maxBytes int64) ([]byte, error) {
	if !strings.EqualFold(strings.TrimSpace(contentEncoding), "gzip") {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("task: invalid gzip payload: %w", err)
	}
	defer zr.Close()
	limited := io.LimitReader(zr, maxBytes+1)
	out, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("task: failed to decompress payload: %w", err)
	}
	if int64(len(out)) > maxBytes {
		return nil, fmt.Errorf("task: decompressed payload exceeds %d bytes", maxBytes)
	}
	return out, nil
}

// AddTaskMeta parses body (a Payload, already gzip-decoded if needed) and
// atomically replaces the task_id's entire entry. Validation failures
// leave the registry untouched.
func (r *Registry) AddTaskMeta(ctx context.Context, body []byte) error {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("task: invalid payload: %w", err)
	}
	if p.TaskID == "" {
		return fmt.Errorf("task: task_id is required")
	}
	taskID := strings.ToLower(p.TaskID)

	if err := r.locks.Acquire(ctx, taskID); err != nil {
		return fmt.Errorf("task: acquiring ingest lock: %w", err)
	}
	defer r.locks.Release(taskID)

	merged := mergeShapes(p)

	tables := make(map[string]*schema.TableStats, len(merged))
	for name, doc := range merged {
		ts, err := buildTableStats(p.VidexDB, name, doc)
		if err != nil {
			return err
		}
		tables[strings.ToLower(ts.Name)] = ts
	}

	entry := taskEntry{dbs: map[string]map[string]*schema.TableStats{
		strings.ToLower(p.VidexDB): tables,
	}}

	for {
		old := r.tasks.Load()
		next := make(map[string]taskEntry, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[taskID] = entry
		if r.tasks.CompareAndSwap(old, &next) {
			return nil
		}
	}
}

// mergeShapes normalizes both ingestion shapes from spec.md §4.7 into one
// map of table name -> TableDoc: Tables is used directly if present,
// otherwise Stats is overlaid with the separately-keyed Histograms/NDV
// maps.
func mergeShapes(p Payload) map[string]TableDoc {
	if len(p.Tables) > 0 {
		return p.Tables
	}
	merged := make(map[string]TableDoc, len(p.Stats))
	for name, doc := range p.Stats {
		if h, ok := p.Histograms[name]; ok {
			doc.ColHists = h
		}
		if n, ok := p.NDVSingle[name]; ok {
			doc.NDVSingle = n
		}
		if n, ok := p.NDVMulcol[name]; ok {
			doc.NDVMulcol = n
		}
		merged[name] = doc
	}
	return merged
}

func buildTableStats(db, name string, doc TableDoc) (*schema.TableStats, error) {
	cols := make([]schema.Column, len(doc.Columns))
	for i, c := range doc.Columns {
		cols[i] = schema.Column{
			Name:          c.Name,
			DataType:      c.DataType,
			ColumnType:    c.ColumnType,
			KeyRole:       schema.KeyRole(strings.ToUpper(c.ColumnKey)),
			IsNullable:    c.IsNullable,
			IsPK:          c.IsPK,
			AutoIncrement: c.AutoIncrement,
			EnumCandidates: c.EnumCandidates,
		}
	}

	idxs := make([]schema.Index, len(doc.Indexes))
	for i, idx := range doc.Indexes {
		idxCols := make([]schema.IndexColumn, len(idx.Columns))
		for j, ic := range idx.Columns {
			idxCols[j] = schema.IndexColumn{
				Name:       ic.Name,
				Expression: ic.Expression,
				Collation:  schema.Collation(strings.ToLower(ic.Collation)),
				SubPart:    ic.SubPart,
			}
		}
		idxs[i] = schema.Index{
			Name:      idx.Name,
			Type:      schema.IndexType(strings.ToUpper(idx.Type)),
			Columns:   idxCols,
			IsUnique:  idx.IsUnique,
			IsVisible: idx.IsVisible,
		}
	}

	tableName := doc.Name
	if tableName == "" {
		tableName = name
	}

	return metabuild.Construct(metabuild.Input{
		DB:                   db,
		Table:                tableName,
		Records:              doc.Rows,
		Deleted:              doc.Deleted,
		Columns:              cols,
		Indexes:              idxs,
		ClusteredIndexSize:   doc.ClusterIndexSize,
		SumOfOtherIndexSizes: doc.OtherIndexSizes,
		DataFileLength:       doc.DataLength,
		IndexFileLength:      doc.IndexLength,
		DataFreeLength:       doc.DataFree,
		AvgRowLength:         doc.AvgRowLength,
		PctCached:            doc.PctCached,
		DefaultPctCached:     doc.DefaultPctCached,
		NDVSingle:            doc.NDVSingle,
		NDVMulcol:            doc.NDVMulcol,
		ColHists:             doc.ColHists,
		SampleFileInfo:       doc.SampleFileInfo,
		GTReturn:             doc.GTReturn,
	})
}

// Snapshot lists every registered task_id, for the visualization endpoint.
func (r *Registry) Snapshot() map[string][]string {
	tasks := *r.tasks.Load()
	out := make(map[string][]string, len(tasks))
	for taskID, entry := range tasks {
		var tables []string
		for db, ts := range entry.dbs {
			for table := range ts {
				tables = append(tables, db+"."+table)
			}
		}
		out[taskID] = tables
	}
	return out
}
