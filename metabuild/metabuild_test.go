package metabuild

import (
	"testing"

	"github.com/felmond13/videxd/schema"
)

func TestConstructRejectsZeroRows(t *testing.T) {
	_, err := Construct(Input{Table: "t", Records: 0})
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestConstructRejectsUnknownIndexColumn(t *testing.T) {
	in := Input{
		Table:   "orders",
		Records: 10,
		Columns: []schema.Column{{Name: "id", ColumnType: "int"}},
		Indexes: []schema.Index{{
			Name: "PRIMARY",
			Type: schema.Primary,
			Columns: []schema.IndexColumn{
				{Name: "missing_col"},
			},
		}},
	}
	_, err := Construct(in)
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestConstructLowercasesTableAndKeys(t *testing.T) {
	in := Input{
		Table:     "Orders",
		Records:   100,
		Columns:   []schema.Column{{Name: "id", ColumnType: "int"}},
		NDVSingle: map[string]int64{"ID": 100},
	}
	ts, err := Construct(in)
	if err != nil {
		t.Fatal(err)
	}
	if ts.Name != "orders" {
		t.Errorf("expected lowercased table name, got %q", ts.Name)
	}
	if n, ok := ts.GetNDVSingle("id"); !ok || n != 100 {
		t.Errorf("expected case-insensitive ndv lookup to find 100, got %d %v", n, ok)
	}
}

func TestConstructBackfillsIndexColumnRefs(t *testing.T) {
	in := Input{
		DB:      "shop",
		Table:   "orders",
		Records: 100,
		Columns: []schema.Column{{Name: "id", ColumnType: "bigint"}},
		Indexes: []schema.Index{{
			Name:    "PRIMARY",
			Type:    schema.Primary,
			Columns: []schema.IndexColumn{{Name: "id"}},
		}},
	}
	ts, err := Construct(in)
	if err != nil {
		t.Fatal(err)
	}
	ic := ts.Indexes[0].Columns[0]
	if ic.RefDB != "shop" || ic.RefTable != "orders" || ic.RefColumn != "id" {
		t.Errorf("expected backfilled refs, got %+v", ic)
	}
}

func TestConstructResolvesFunctionalIndexColumnName(t *testing.T) {
	in := Input{
		Table:   "orders",
		Records: 10,
		Columns: []schema.Column{{Name: "doc", ColumnType: "json"}},
		Indexes: []schema.Index{{
			Name: "idx_doc_x",
			Type: schema.Normal,
			Columns: []schema.IndexColumn{
				{Expression: "cast(json_extract(doc, '$.x') as char(32) array)"},
			},
		}},
	}
	ts, err := Construct(in)
	if err != nil {
		t.Fatal(err)
	}
	if got := ts.Indexes[0].Columns[0].RefColumn; got != "doc" {
		t.Errorf("expected resolved functional column 'doc', got %q", got)
	}
}

func TestConstructEstimatesSizesWhenAbsent(t *testing.T) {
	in := Input{
		Table:   "orders",
		Records: 1000,
		Columns: []schema.Column{
			{Name: "id", ColumnType: "bigint"},
			{Name: "name", ColumnType: "varchar(255)"},
		},
	}
	ts, err := Construct(in)
	if err != nil {
		t.Fatal(err)
	}
	if ts.DataFileLength <= 0 {
		t.Errorf("expected estimated data_file_length > 0, got %d", ts.DataFileLength)
	}
	if ts.AvgRowLength <= 0 {
		t.Errorf("expected estimated avg_row_length > 0, got %d", ts.AvgRowLength)
	}
}

func TestConstructDoesNotOverwriteExplicitSizes(t *testing.T) {
	in := Input{
		Table:          "orders",
		Records:        1000,
		Columns:        []schema.Column{{Name: "id", ColumnType: "int"}},
		DataFileLength: 12345,
	}
	ts, err := Construct(in)
	if err != nil {
		t.Fatal(err)
	}
	if ts.DataFileLength != 12345 {
		t.Errorf("expected explicit data_file_length to survive, got %d", ts.DataFileLength)
	}
}

func TestEstimateIndexLengthPrimaryVsSecondary(t *testing.T) {
	cols := []schema.Column{{Name: "id", ColumnType: "bigint"}}
	primary := []schema.Index{{Name: "PRIMARY", Type: schema.Primary, Columns: []schema.IndexColumn{{Name: "id"}}}}
	secondary := []schema.Index{{Name: "idx_id", Type: schema.Normal, Columns: []schema.IndexColumn{{Name: "id"}}}}

	primaryLen := estimateTotalIndexLength(1000, primary, cols)
	secondaryLen := estimateTotalIndexLength(1000, secondary, cols)
	if secondaryLen <= primaryLen {
		t.Errorf("expected secondary index (carries pk reference) to be larger: primary=%v secondary=%v", primaryLen, secondaryLen)
	}
}
