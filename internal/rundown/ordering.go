package rundown

import (
	"math"
	"sort"
	"strconv"
)

// Order keys live in their own numbering space starting at 0. Page numbers
// start at 1. The two spaces are independent and must not be conflated.

// NextInsertOrder returns a key for inserting after the segment with the given
// id in a list sorted ascending by Order. The key is strictly greater than the
// reference's order; when a successor exists it lands between the two (the
// fractional step relies on periodic normalization to keep gaps wide enough).
// When the reference is missing the key falls back past the current maximum.
func NextInsertOrder(items []Segment, afterID string) float64 {
	if len(items) == 0 {
		return 0
	}
	idx := -1
	for i, item := range items {
		if item.ID == afterID {
			idx = i
			break
		}
	}
	if idx < 0 {
		max := items[0].Order
		for _, item := range items[1:] {
			if item.Order > max {
				max = item.Order
			}
		}
		return max + 1
	}
	if idx == len(items)-1 {
		return items[idx].Order + 1
	}
	return items[idx].Order + 0.1
}

// nextInsertOrderAt returns a key for inserting at a positional index, the
// shape a drop event arrives in. Index 0 slots before the current head.
func nextInsertOrderAt(items []Segment, index int) float64 {
	if len(items) == 0 {
		return 0
	}
	if index <= 0 {
		return items[0].Order - 1
	}
	if index >= len(items) {
		return items[len(items)-1].Order + 1
	}
	return NextInsertOrder(items, items[index-1].ID)
}

// Normalize resorts by current order and reassigns dense integer keys 0..n-1,
// preserving the relative sequence. Required periodically so repeated
// fractional insertions at one position cannot exhaust key precision.
func Normalize(items []Segment) []Segment {
	out := make([]Segment, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	for i := range out {
		out[i].Order = float64(i)
	}
	return out
}

// ItemsNeedingUpdate returns every item whose order is at or past the floor of
// the insertion key: the minimal set that must be persisted after an insertion
// shifted siblings.
func ItemsNeedingUpdate(items []Segment, insertOrder float64) []Segment {
	threshold := math.Floor(insertOrder)
	var out []Segment
	for _, item := range items {
		if item.Order >= threshold {
			out = append(out, item)
		}
	}
	return out
}

// fractionalKeyCount reports how many keys have drifted off the integer grid
// since the last normalization.
func fractionalKeyCount(items []Segment) int {
	n := 0
	for _, item := range items {
		if item.Order != math.Trunc(item.Order) {
			n++
		}
	}
	return n
}

// NextPageNumber scans every segment of the destination journal and returns
// one past the highest positive, parseable page number. Unnumbered pages
// (non-numeric or <= 0) are ignored. An unnumbered journal starts at 1.
func NextPageNumber(blocks []BlockWithItems) int {
	max := 0
	for _, block := range blocks {
		for _, item := range block.Items {
			page, err := strconv.Atoi(item.Page)
			if err != nil || page <= 0 {
				continue
			}
			if page > max {
				max = page
			}
		}
	}
	return max + 1
}

// TailInsertOrder returns the key for appending at the end of a block.
func TailInsertOrder(items []Segment) float64 {
	return nextInsertOrderAt(items, len(items))
}

// NextBlockOrder appends past the current tail of the journal's block order.
func NextBlockOrder(blocks []BlockWithItems) float64 {
	if len(blocks) == 0 {
		return 0
	}
	max := blocks[0].Order
	for _, block := range blocks[1:] {
		if block.Order > max {
			max = block.Order
		}
	}
	return max + 1
}
