package dispatcher

import (
	"context"
	"reflect"
	"testing"

	"github.com/felmond13/videxd/estimator"
	"github.com/felmond13/videxd/task"
	"github.com/felmond13/videxd/tasklock"
)

const payload = `{
  "task_id": "t1",
  "videx_db": "shop",
  "tables": {
    "orders": {
      "name": "orders",
      "rows": 1000,
      "columns": [
        {"name": "id", "data_type": "bigint", "column_type": "bigint", "is_pk": true},
        {"name": "loc", "data_type": "geometry", "column_type": "geometry"}
      ],
      "indexes": [
        {"name": "PRIMARY", "type": "PRIMARY", "columns": [{"name": "id"}], "is_unique": true},
        {"name": "idx_loc", "type": "NORMAL", "columns": [{"name": "loc"}]}
      ],
      "ndv_single": {"id": 1000}
    }
  }
}`

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := task.New(tasklock.PolicyWait)
	if err := reg.AddTaskMeta(context.Background(), []byte(payload)); err != nil {
		t.Fatal(err)
	}
	return New(reg, estimator.InnoDBLike{IgnoreRangeAfterNeq: true}, 64)
}

func baseProps(fn string) Properties {
	return Properties{
		DBName:       "shop",
		TableName:    "orders",
		Function:     fn,
		VidexOptions: `{"task_id":"t1"}`,
	}
}

func TestDispatchScanTime(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Properties: baseProps("virtual double ha_videx::scan_time()")})
	if resp.Code != 200 {
		t.Fatalf("expected code 200, got %d", resp.Code)
	}
	if resp.Data["scan_time"] == "" {
		t.Errorf("expected scan_time in response data, got %+v", resp.Data)
	}
}

func TestDispatchGetMemoryBufferSize(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Properties: baseProps("virtual ulonglong ha_videx::get_memory_buffer_size()")})
	if resp.Data["memory_buffer_size"] != "-1" {
		t.Errorf("expected -1, got %q", resp.Data["memory_buffer_size"])
	}
}

func TestDispatchNotSupported(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Properties: baseProps("virtual int ha_videx::some_unknown_call()")})
	if resp.Code != 200 {
		t.Errorf("expected code 200 even for unsupported, got %d", resp.Code)
	}
	if len(resp.Data) != 0 {
		t.Errorf("expected empty data for unsupported function, got %+v", resp.Data)
	}
}

func TestDispatchRecordsInRangeEquality(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{
		Properties: baseProps("virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)"),
		Data: []NestedRecord{
			{
				Properties: NestedProperties{IndexName: "PRIMARY", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "id", Value: "5"}}},
			},
			{
				Properties: NestedProperties{IndexName: "PRIMARY", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "id", Value: "5"}}},
			},
		},
	}
	resp := d.Dispatch(req)
	if resp.Code != 200 {
		t.Fatalf("expected code 200, got %d: %s", resp.Code, resp.Message)
	}
	if resp.Data["value"] != "1" {
		t.Errorf("expected value=1 (1000/ndv 1000), got %q", resp.Data["value"])
	}
}

func TestDispatchInfoLow(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(Request{Properties: baseProps("virtual int ha_videx::info_low(uint)")})
	if resp.Data["stat_n_rows"] != "1000" {
		t.Errorf("expected stat_n_rows=1000, got %+v", resp.Data)
	}
}

func TestDispatchRecordsInRangeUnsupportedTypeFallsBackToOne(t *testing.T) {
	d := newTestDispatcher(t)
	req := Request{
		Properties: baseProps("virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)"),
		Data: []NestedRecord{
			{
				Properties: NestedProperties{IndexName: "idx_loc", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "loc", Value: "POINT(1 1)"}}},
			},
			{
				Properties: NestedProperties{IndexName: "idx_loc", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "loc", Value: "POINT(1 1)"}}},
			},
		},
	}
	resp := d.Dispatch(req)
	if resp.Code != 200 {
		t.Fatalf("expected code 200, got %d: %s", resp.Code, resp.Message)
	}
	if resp.Data["value"] != "1" {
		t.Errorf("expected safe fallback value=1 for an unsupported data type, got %q", resp.Data["value"])
	}
}

func TestDispatchRecordsInRangeUsesReplayTableWhenUseGTSet(t *testing.T) {
	d := newTestDispatcher(t)
	props := baseProps("virtual ha_rows ha_videx::records_in_range(uint, key_range*, key_range*)")
	props.VidexOptions = `{"task_id":"t1","use_gt":true}`
	req := Request{
		Properties: props,
		Data: []NestedRecord{
			{
				Properties: NestedProperties{IndexName: "PRIMARY", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "id", Value: "5"}}},
			},
			{
				Properties: NestedProperties{IndexName: "PRIMARY", Operator: "="},
				Data:       []NestedRecord{{Properties: NestedProperties{Column: "id", Value: "5"}}},
			},
		},
	}

	first := d.Dispatch(req)
	if first.Code != 200 {
		t.Fatalf("expected code 200, got %d: %s", first.Code, first.Message)
	}

	if fp, ok := fingerprintOf(req); !ok {
		t.Fatal("expected a fingerprint for the request")
	} else if _, hit := d.Overlay.LookupReplay(fp); !hit {
		t.Fatal("expected the first dispatch to populate the replay table")
	}

	second := d.Dispatch(req)
	if !reflect.DeepEqual(second, first) {
		t.Errorf("expected the second dispatch to replay the first verbatim, got %+v vs %+v", second, first)
	}
}

func TestDispatchTableNotFound(t *testing.T) {
	d := newTestDispatcher(t)
	props := baseProps("scan_time")
	props.TableName = "missing"
	resp := d.Dispatch(Request{Properties: props})
	if resp.Code != 200 {
		t.Errorf("expected code 200 even on not-found, got %d", resp.Code)
	}
	if len(resp.Data) != 0 {
		t.Errorf("expected empty data for not-found table, got %+v", resp.Data)
	}
}
