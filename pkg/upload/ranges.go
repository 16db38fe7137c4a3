package upload

import "sort"

// Range is a closed interval [Start, End] of chunk offsets.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// MissingRanges computes the minimal sorted list of maximal contiguous
// intervals of {0..count-1} not covered by present. Offsets outside
// [0, count) and duplicates in present are ignored.
func MissingRanges(present []int64, count int64) []Range {
	if count <= 0 {
		return []Range{}
	}

	offsets := make([]int64, 0, len(present))
	for _, off := range present {
		if off >= 0 && off < count {
			offsets = append(offsets, off)
		}
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	ranges := []Range{}
	next := int64(0)
	for _, off := range offsets {
		if off < next {
			continue
		}
		if off > next {
			ranges = append(ranges, Range{Start: next, End: off - 1})
		}
		next = off + 1
	}
	if next < count {
		ranges = append(ranges, Range{Start: next, End: count - 1})
	}
	return ranges
}
