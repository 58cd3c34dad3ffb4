package schema

import "testing"

func TestGetNDVMulcolFallback(t *testing.T) {
	ts := &TableStats{
		Records:   1000,
		NDVSingle: map[string]int64{"a": 10, "b": 100},
	}
	got := ts.GetNDVMulcol("idx", []string{"a", "b"})
	if got != 1000 {
		t.Errorf("expected product clamped to records (1000), got %d", got)
	}
}

func TestGetNDVMulcolExactMatch(t *testing.T) {
	ts := &TableStats{
		Records: 1000,
		NDVMulcol: map[string]map[string]int64{
			"idx": {PrefixKey([]string{"a", "b"}): 42},
		},
	}
	if got := ts.GetNDVMulcol("IDX", []string{"a", "b"}); got != 42 {
		t.Errorf("expected exact match 42, got %d", got)
	}
}

func TestNDVMonotonicWithPrefixLength(t *testing.T) {
	ts := &TableStats{
		Records:   1000,
		NDVSingle: map[string]int64{"a": 5, "b": 7, "c": 2},
	}
	n1 := ts.GetNDVMulcol("idx", []string{"a"})
	n2 := ts.GetNDVMulcol("idx", []string{"a", "b"})
	n3 := ts.GetNDVMulcol("idx", []string{"a", "b", "c"})
	if !(n1 <= n2 && n2 <= n3) {
		t.Errorf("expected monotonic NDV, got %d <= %d <= %d", n1, n2, n3)
	}
	if n3 > ts.Records {
		t.Errorf("NDV %d exceeds records %d", n3, ts.Records)
	}
}

func TestGetPctCachedDefault(t *testing.T) {
	ts := &TableStats{DefaultPctCached: 1}
	if got := ts.GetPctCached("missing"); got != 1 {
		t.Errorf("expected default 1, got %v", got)
	}
	ts.PctCached = map[string]float64{"primary": 0.5}
	if got := ts.GetPctCached("PRIMARY"); got != 0.5 {
		t.Errorf("expected case-insensitive match 0.5, got %v", got)
	}
}

func TestParseFunctionalColumnName(t *testing.T) {
	expr := "cast(json_extract(doc, '$.x') as char(32) array)"
	if got := ParseFunctionalColumnName(expr); got != "doc" {
		t.Errorf("got %q, want doc", got)
	}
}
