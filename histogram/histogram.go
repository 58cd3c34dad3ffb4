// Package histogram implements the per-column histogram store (spec.md
// component C2): equi-height/singleton/equi-width buckets and the
// fraction_below interpolation the estimator uses to turn a literal value
// into a cumulative-frequency position.
package histogram

import (
	"fmt"
	"log"
	"math"

	"github.com/felmond13/videxd/value"
)

// Side is the B-tree key position side a value sits on: left (the key
// compares as "at or before" this value) or right ("at or after"). It
// mirrors MySQL's HA_READ_KEY_EXACT/HA_READ_AFTER_KEY distinction at the
// point where a value's cumulative frequency is looked up.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Type enumerates how a histogram's buckets were produced.
type Type string

const (
	EquiHeight      Type = "equi-height"
	Singleton       Type = "singleton"
	EquiWidth       Type = "equi-width"
	BruteForceWidth Type = "brute_force_equi_width"
)

// Bucket is one contiguous value range with an accumulated frequency and an
// internal distinct-value count. Invariant: Min <= Max; buckets are
// disjoint and ordered; CumFreq is strictly increasing across buckets.
type Bucket struct {
	Min      value.Value
	Max      value.Value
	CumFreq  float64
	RowCount float64 // the bucket's own distinct-value count; may be fractional
	Size     int64
}

// Stats is one column's histogram: its buckets, declared data type,
// histogram construction method, and the null fraction that isn't captured
// by any bucket.
type Stats struct {
	Buckets                  []Bucket
	DataType                 string
	HistogramType            Type
	NullValues               float64
	SamplingRate             float64
	NumberOfBucketsSpecified int
}

// Validate rescales CumFreq across buckets when null_values + last bucket's
// cum_freq drifts more than 1% from 1, per spec.md §3. It mutates Stats in
// place and is idempotent.
func (s *Stats) Validate() error {
	if s.NullValues < 0 {
		return fmt.Errorf("histogram: null_values must be >= 0, got %v", s.NullValues)
	}
	if len(s.Buckets) == 0 {
		return nil
	}
	last := s.Buckets[len(s.Buckets)-1].CumFreq
	if math.Abs(s.NullValues+last-1) > 0.01 {
		denom := 1 - s.NullValues
		if denom <= 0 || last <= 0 {
			return nil
		}
		scale := denom / last
		for i := range s.Buckets {
			s.Buckets[i].CumFreq *= scale
		}
		s.Buckets[len(s.Buckets)-1].CumFreq = denom
	}
	return nil
}

// FractionBelow returns the cumulative fraction of rows strictly below
// (side=Left) or at or below (side=Right) v, frequencies inclusive of NULLs
// per spec.md §4.2.
func (s *Stats) FractionBelow(v value.Value, side Side) float64 {
	if v.IsNull() {
		if side == Left {
			return 0
		}
		return s.NullValues
	}
	if len(s.Buckets) == 0 {
		return s.NullValues
	}

	if cmp, err := value.Compare(v, s.Buckets[len(s.Buckets)-1].Max); err == nil && cmp > 0 {
		return 1
	}
	if cmp, err := value.Compare(v, s.Buckets[0].Min); err == nil && cmp < 0 {
		return s.NullValues
	}

	for i := range s.Buckets {
		cur := &s.Buckets[i]
		if i+1 < len(s.Buckets) {
			next := &s.Buckets[i+1]
			if inGap(v, cur, next) {
				log.Printf("histogram: value is between buckets %d and %d; clamping to bucket max", i, i+1)
				v = cur.Max
			}
		}
		if !withinBucket(v, cur) {
			continue
		}

		width, offset := bucketPosition(v, cur, s.DataType)
		var posInBucket float64
		if side == Left {
			posInBucket = offset
		} else {
			posInBucket = offset + width
		}

		var preCum float64
		if i > 0 {
			preCum = s.Buckets[i-1].CumFreq
		}
		freq := preCum + (cur.CumFreq-preCum)*posInBucket
		return freq + s.NullValues
	}
	// Should be unreachable given the global min/max checks above, but
	// degrade gracefully rather than panic on a malformed histogram.
	return s.NullValues
}

func inGap(v value.Value, cur, next *Bucket) bool {
	c1, e1 := value.Compare(v, cur.Max)
	c2, e2 := value.Compare(v, next.Min)
	return e1 == nil && e2 == nil && c1 > 0 && c2 < 0
}

func withinBucket(v value.Value, b *Bucket) bool {
	cmin, e1 := value.Compare(v, b.Min)
	cmax, e2 := value.Compare(v, b.Max)
	return e1 == nil && e2 == nil && cmin >= 0 && cmax <= 0
}

// bucketPosition computes one_value_width and one_value_offset per
// spec.md §4.2's per-type rules, grounded on
// original_source/.../videx_histogram.py::find_nearest_key_pos.
func bucketPosition(v value.Value, b *Bucket, dataType string) (width, offset float64) {
	if eq, err := value.Compare(b.Min, b.Max); err == nil && eq == 0 {
		return 1, 0
	}

	rowCount := b.RowCount
	if rowCount <= 0 {
		rowCount = 1
	}
	width = 1 / rowCount

	switch v.Kind {
	case value.KindInt:
		span := float64(b.Max.I - b.Min.I + 1)
		width = math.Max(width, 1/span)
		offset = float64(v.I-b.Min.I) / span
	case value.KindFloat:
		span := b.Max.F - b.Min.F
		if span != 0 {
			offset = (v.F - b.Min.F) / span
		}
	case value.KindString, value.KindJSON:
		switch {
		case v.S == b.Min.S:
			offset = 0
		case v.S == b.Max.S:
			offset = 1
		default:
			offset = 0.5
		}
	case value.KindDate:
		minF, _ := b.Min.AsFloat()
		maxF, _ := b.Max.AsFloat()
		curF, _ := v.AsFloat()
		totalDays := maxF - minF + 1
		if totalDays <= 0 {
			totalDays = 1
		}
		width = math.Max(width, 1/totalDays)
		offset = (curF - minF) / totalDays
	case value.KindDatetime:
		minF, _ := b.Min.AsFloat()
		maxF, _ := b.Max.AsFloat()
		curF, _ := v.AsFloat()
		totalSeconds := maxF - minF
		if totalSeconds != 0 {
			width = math.Max(width, 1/totalSeconds)
			offset = (curF - minF) / totalSeconds
		} else {
			offset = 0
		}
	default:
		offset = 0.5
	}

	if offset > 1-width {
		offset = 1 - width
	}
	if offset < 0 {
		offset = 0
	}
	return width, offset
}

// OneValueWidth returns the width an equality predicate on v occupies
// within its containing bucket — used by the estimator for equality
// selectivity instead of subtracting two FractionBelow calls.
func (s *Stats) OneValueWidth(v value.Value) float64 {
	if v.IsNull() || len(s.Buckets) == 0 {
		return 0
	}
	for i := range s.Buckets {
		cur := &s.Buckets[i]
		if !withinBucket(v, cur) {
			continue
		}
		width, _ := bucketPosition(v, cur, s.DataType)
		span := cur.CumFreq
		if i > 0 {
			span -= s.Buckets[i-1].CumFreq
		}
		return width * span
	}
	return 0
}
