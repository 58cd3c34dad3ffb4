// Package dispatcher implements the request dispatcher (spec.md
// component C8): it inspects a decoded ask_videx request's
// properties.function fragment and routes to the estimator, returning the
// uniform {code, message, data} envelope the transport layer serializes.
package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/felmond13/videxd/estimator"
	"github.com/felmond13/videxd/rangecond"
	"github.com/felmond13/videxd/schema"
	"github.com/felmond13/videxd/task"
	"github.com/felmond13/videxd/value"
)

// Request is the top-level ask_videx body, per spec.md §6.
type Request struct {
	ItemType   string       `json:"item_type"`
	Properties Properties   `json:"properties"`
	Data       []NestedRecord `json:"data,omitempty"`
}

// Properties carries the routing and scope fields every request shares.
type Properties struct {
	DBName               string `json:"dbname"`
	TableName            string `json:"table_name"`
	Function             string `json:"function"`
	TargetStorageEngine  string `json:"target_storage_engine"`
	VidexOptions         string `json:"videx_options"` // JSON-encoded {task_id?, use_gt?}
}

// VidexOptions is Properties.VidexOptions once parsed.
type VidexOptions struct {
	TaskID string `json:"task_id"`
	UseGT  bool   `json:"use_gt"`
}

func (p Properties) parseOptions() VidexOptions {
	if p.VidexOptions == "" {
		return VidexOptions{}
	}
	var opts VidexOptions
	_ = json.Unmarshal([]byte(p.VidexOptions), &opts)
	return opts
}

// NestedRecord is the generic shape every request.data entry takes: a
// min_key/max_key record (index_name, length, operator, nested
// column_and_bound data) or a column_and_bound leaf (column, value).
type NestedRecord struct {
	Properties NestedProperties `json:"properties"`
	Data       []NestedRecord   `json:"data,omitempty"`
}

// NestedProperties is the union of fields min_key/max_key and
// column_and_bound records carry; only the fields relevant to the
// record's role are populated.
type NestedProperties struct {
	IndexName string `json:"index_name,omitempty"`
	Length    int    `json:"length,omitempty"`
	Operator  string `json:"operator,omitempty"`
	Column    string `json:"column,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Response is the uniform envelope every ask_videx call returns.
type Response struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Data    map[string]string `json:"data"`
}

func ok(data map[string]string) Response {
	return Response{Code: 200, Message: "ok", Data: data}
}

func notSupported(fn string) Response {
	return Response{Code: 200, Message: fmt.Sprintf("function %q is not supported", fn), Data: map[string]string{}}
}

func notFound(reason string) Response {
	return Response{Code: 200, Message: reason, Data: map[string]string{}}
}

// Dispatcher routes ask_videx requests to the estimator, using the task
// registry to resolve the table the request targets.
type Dispatcher struct {
	Registry *task.Registry
	Overlay  *estimator.Overlay
}

// New creates a dispatcher wired to a registry and an estimator strategy
// wrapped in the ground-truth overlay.
func New(registry *task.Registry, strategy estimator.Strategy, replayCapacity int) *Dispatcher {
	return &Dispatcher{Registry: registry, Overlay: estimator.NewOverlay(strategy, replayCapacity)}
}

// Dispatch routes req per spec.md §4.8's function-fragment table. When
// opts.UseGT is set, it first consults the ground-truth overlay's replay
// table for a bit-exact response recorded for req's fingerprint, and
// stores the response it computes back into that table on a miss, per
// spec.md §4.6.
func (d *Dispatcher) Dispatch(req Request) Response {
	opts := req.Properties.parseOptions()

	if opts.UseGT {
		if fp, ok := fingerprintOf(req); ok {
			if cached, hit := d.Overlay.LookupReplay(fp); hit {
				var resp Response
				if err := json.Unmarshal([]byte(cached), &resp); err == nil {
					return resp
				}
			}
			resp := d.route(req, opts)
			if encoded, err := json.Marshal(resp); err == nil {
				d.Overlay.StoreReplay(fp, string(encoded))
			}
			return resp
		}
	}

	return d.route(req, opts)
}

// fingerprintOf converts req to the map[string]any shape
// estimator.Fingerprint expects, via a JSON round-trip through its wire
// encoding.
func fingerprintOf(req Request) (map[string]any, bool) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, false
	}
	return m, true
}

// route implements spec.md §4.8's function-fragment table, unwrapped from
// the replay-table bookkeeping Dispatch performs around it.
func (d *Dispatcher) route(req Request, opts VidexOptions) Response {
	fn := req.Properties.Function

	switch {
	case strings.Contains(fn, "scan_time"):
		ts, ok2 := d.lookup(req, opts)
		if !ok2 {
			return notFound("table not found")
		}
		return ok(map[string]string{"scan_time": ftoa(d.Overlay.Strategy.ScanTime(ts.Records))})

	case strings.Contains(fn, "get_memory_buffer_size"):
		return ok(map[string]string{"memory_buffer_size": itoa(d.Overlay.Strategy.GetMemoryBufferSize())})

	case strings.Contains(fn, "records_in_range"):
		return d.dispatchRecordsInRange(req, opts)

	case strings.Contains(fn, "info_low"):
		ts, ok2 := d.lookup(req, opts)
		if !ok2 {
			return notFound("table not found")
		}
		return ok(d.Overlay.Strategy.InfoLow(ts))

	default:
		return notSupported(fn)
	}
}

func (d *Dispatcher) lookup(req Request, opts VidexOptions) (*schema.TableStats, bool) {
	return d.Registry.Lookup(opts.TaskID, req.Properties.DBName, req.Properties.TableName)
}

func (d *Dispatcher) dispatchRecordsInRange(req Request, opts VidexOptions) Response {
	ts, ok2 := d.lookup(req, opts)
	if !ok2 {
		return notFound("table not found")
	}
	if len(req.Data) < 1 {
		return Response{Code: 200, Message: "records_in_range requires a min_key/max_key pair", Data: map[string]string{}}
	}

	min := decodeSideKey(req.Data[0])
	var max rangecond.SideKey
	if len(req.Data) > 1 {
		max = decodeSideKey(req.Data[1])
	}

	indexName := min.IndexName
	if indexName == "" {
		indexName = max.IndexName
	}
	idx, found := ts.Index(indexName)
	var idxCols []schema.IndexColumn
	if found {
		idxCols = idx.Columns
	}

	dataTypeOf := func(col string) string {
		if c, ok := ts.Column(col); ok {
			return c.DataType
		}
		return "varchar"
	}

	irc, err := rangecond.Decode(min, max, idxCols, dataTypeOf)
	if err != nil {
		var unsupported *value.UnsupportedType
		if errors.As(err, &unsupported) {
			return ok(map[string]string{"value": "1"})
		}
		return Response{Code: 200, Message: err.Error(), Data: map[string]string{}}
	}
	if irc.IndexName == "" {
		irc.IndexName = indexName
	}

	rows, err := d.Overlay.RecordsInRange(irc, ts, opts.UseGT)
	if err != nil {
		return Response{Code: 200, Message: err.Error(), Data: map[string]string{}}
	}
	return ok(map[string]string{"value": itoa(rows)})
}

func decodeSideKey(r NestedRecord) rangecond.SideKey {
	sk := rangecond.SideKey{IndexName: r.Properties.IndexName, Operator: r.Properties.Operator}
	for _, col := range r.Data {
		sk.Columns = append(sk.Columns, rangecond.ColumnBound{
			Column: col.Properties.Column,
			Value:  col.Properties.Value,
		})
	}
	return sk
}

func itoa(n int64) string   { return strconv.FormatInt(n, 10) }
func ftoa(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
