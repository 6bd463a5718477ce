package workflow

import (
	"sort"
	"strings"
)

// HistoryRecord is the slice of a department history entry the code
// generator needs.
type HistoryRecord struct {
	ID           int64
	ToDepartment Department
	Status       Status
	CreatedAt    string
}

// GenerateCode maps completed-department history to a compact identifier:
// entries sorted by creation time ascending, filtered to completed work,
// each contributing its department letter in temporal order. An empty
// history, or one with no completed entries, yields the empty string.
//
// The sort is defensive; the function never trusts caller ordering, so the
// result is identical for shuffled input. Callers must recompute the code
// from full history rather than patching it incrementally.
func GenerateCode(entries []HistoryRecord) string {
	sorted := make([]HistoryRecord, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})
	var b strings.Builder
	for _, e := range sorted {
		if e.Status != StatusCompleted {
			continue
		}
		b.WriteString(e.ToDepartment.Letter())
	}
	return b.String()
}
