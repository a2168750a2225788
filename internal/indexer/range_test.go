package indexer

import (
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestSplitRange(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		size     uint64
		want     []BlockRange
	}{
		{
			name: "uneven tail",
			from: 100, to: 105, size: 4,
			want: []BlockRange{{From: 100, To: 103}, {From: 104, To: 105}},
		},
		{
			name: "exact multiple",
			from: 1, to: 6, size: 2,
			want: []BlockRange{{From: 1, To: 2}, {From: 3, To: 4}, {From: 5, To: 6}},
		},
		{
			name: "single block",
			from: 5, to: 5, size: 2000,
			want: []BlockRange{{From: 5, To: 5}},
		},
		{
			name: "top of uint64",
			from: math.MaxUint64 - 2, to: math.MaxUint64, size: 2,
			want: []BlockRange{{From: math.MaxUint64 - 2, To: math.MaxUint64 - 1}, {From: math.MaxUint64, To: math.MaxUint64}},
		},
	}

	for _, tt := range tests {
		got, err := SplitRange(tt.from, tt.to, tt.size)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("%s: ranges mismatch: %+v != %+v", tt.name, got, tt.want)
		}

		var blocks uint64
		for _, r := range got {
			blocks += r.Len()
		}
		if blocks != tt.to-tt.from+1 {
			t.Fatalf("%s: chunks cover %d blocks, want %d", tt.name, blocks, tt.to-tt.from+1)
		}
	}
}

func TestSplitRangeRejectsBadInput(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage for reversed range, got %v", err)
	}
	if _, err := SplitRange(1, 10, 0); !errors.Is(err, ErrUsage) {
		t.Fatalf("expected ErrUsage for zero batch size, got %v", err)
	}
}
