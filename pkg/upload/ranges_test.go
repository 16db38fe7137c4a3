package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingRanges(t *testing.T) {
	tests := []struct {
		name    string
		present []int64
		count   int64
		want    []Range
	}{
		{
			name:  "empty set",
			count: 3,
			want:  []Range{{0, 2}},
		},
		{
			name:    "full set",
			present: []int64{0, 1, 2},
			count:   3,
			want:    []Range{},
		},
		{
			name:    "hole in the middle",
			present: []int64{0, 2},
			count:   3,
			want:    []Range{{1, 1}},
		},
		{
			name:    "leading and trailing gaps",
			present: []int64{3, 4},
			count:   8,
			want:    []Range{{0, 2}, {5, 7}},
		},
		{
			name:    "unsorted with duplicates",
			present: []int64{5, 1, 1, 5, 0},
			count:   7,
			want:    []Range{{2, 4}, {6, 6}},
		},
		{
			name:    "offsets out of bounds ignored",
			present: []int64{-1, 0, 9},
			count:   3,
			want:    []Range{{1, 2}},
		},
		{
			name:  "single chunk",
			count: 1,
			want:  []Range{{0, 0}},
		},
		{
			name:  "zero count",
			count: 0,
			want:  []Range{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingRanges(tt.present, tt.count))
		})
	}
}

// Filling the returned ranges plus the present set must reconstruct
// {0..count-1} exactly.
func TestMissingRangesRoundTrip(t *testing.T) {
	const count = 64
	presents := [][]int64{
		{},
		{0},
		{63},
		{0, 63},
		{1, 2, 3, 10, 11, 40, 62},
		{0, 1, 2, 3, 4, 5, 6, 7},
	}

	for _, present := range presents {
		covered := make(map[int64]bool, count)
		for _, off := range present {
			covered[off] = true
		}
		for _, r := range MissingRanges(present, count) {
			assert.LessOrEqual(t, r.Start, r.End)
			for off := r.Start; off <= r.End; off++ {
				assert.False(t, covered[off], "offset %d covered twice", off)
				covered[off] = true
			}
		}
		assert.Len(t, covered, count)
	}
}

func TestChunkKeys(t *testing.T) {
	hash := "ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34ab12cd34"
	assert.Equal(t,
		"65F0C0FFEE00000000000002/AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34",
		ChunkPrefix("65F0C0FFEE00000000000002", hash))
	assert.Equal(t,
		"65F0C0FFEE00000000000002/AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34AB12CD34/00000012.data",
		ChunkKey("65F0C0FFEE00000000000002", hash, 12))
	assert.Equal(t, "65F0C0FFEE00000000000001.zip", AssembledKey("65F0C0FFEE00000000000001"))
}
