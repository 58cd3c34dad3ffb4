package task

import (
	"compress/gzip"
	"bytes"
	"context"
	"testing"

	"github.com/felmond13/videxd/tasklock"
)

const samplePayload = `{
  "task_id": "T1",
  "videx_db": "shop",
  "tables": {
    "orders": {
      "name": "orders",
      "rows": 1000,
      "columns": [
        {"name": "id", "data_type": "bigint", "column_type": "bigint", "is_pk": true},
        {"name": "status", "data_type": "varchar", "column_type": "varchar(32)"}
      ],
      "indexes": [
        {"name": "PRIMARY", "type": "PRIMARY", "columns": [{"name": "id"}], "is_unique": true}
      ],
      "ndv_single": {"status": 4}
    }
  }
}`

func TestAddTaskMetaAndLookup(t *testing.T) {
	r := New(tasklock.PolicyWait)
	if err := r.AddTaskMeta(context.Background(), []byte(samplePayload)); err != nil {
		t.Fatal(err)
	}
	ts, ok := r.Lookup("t1", "SHOP", "Orders")
	if !ok {
		t.Fatal("expected case-insensitive lookup to succeed")
	}
	if ts.Records != 1000 {
		t.Errorf("expected 1000 records, got %d", ts.Records)
	}
	if n, ok := ts.GetNDVSingle("status"); !ok || n != 4 {
		t.Errorf("expected ndv_single status=4, got %d %v", n, ok)
	}
}

func TestAddTaskMetaReplacesEntirely(t *testing.T) {
	r := New(tasklock.PolicyWait)
	if err := r.AddTaskMeta(context.Background(), []byte(samplePayload)); err != nil {
		t.Fatal(err)
	}
	replacement := `{"task_id":"t1","videx_db":"shop","tables":{}}`
	if err := r.AddTaskMeta(context.Background(), []byte(replacement)); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Lookup("t1", "shop", "orders"); ok {
		t.Error("expected old table to be gone after full replacement")
	}
}

func TestDrop(t *testing.T) {
	r := New(tasklock.PolicyWait)
	if err := r.AddTaskMeta(context.Background(), []byte(samplePayload)); err != nil {
		t.Fatal(err)
	}
	r.Drop("t1")
	if _, ok := r.Lookup("t1", "shop", "orders"); ok {
		t.Error("expected task to be gone after Drop")
	}
}

func TestLookupMissingTask(t *testing.T) {
	r := New(tasklock.PolicyWait)
	if _, ok := r.Lookup("missing", "db", "table"); ok {
		t.Error("expected lookup miss for unknown task")
	}
}

func TestDecodeGzipPassthroughWithoutEncoding(t *testing.T) {
	out, err := DecodeGzip([]byte("raw"), "", 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "raw" {
		t.Errorf("expected passthrough, got %q", out)
	}
}

func TestDecodeGzipDecompresses(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(samplePayload))
	zw.Close()

	out, err := DecodeGzip(buf.Bytes(), "gzip", int64(len(samplePayload)+10))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != samplePayload {
		t.Errorf("decompressed payload mismatch")
	}
}

func TestDecodeGzipRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(samplePayload))
	zw.Close()

	_, err := DecodeGzip(buf.Bytes(), "gzip", 1)
	if err == nil {
		t.Fatal("expected error for oversized decompressed payload")
	}
}

func TestSnapshotListsTasks(t *testing.T) {
	r := New(tasklock.PolicyWait)
	if err := r.AddTaskMeta(context.Background(), []byte(samplePayload)); err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if _, ok := snap["t1"]; !ok {
		t.Errorf("expected snapshot to list task t1, got %+v", snap)
	}
}
