package coinledger

import "sort"

// Merge folds the per-source event streams into one globally-ordered
// stream under the total key (timestamp, source_priority, source_row_index).
// The sort is stable, so paired legs of one ref group, which share all
// three keys except Seq, keep their original relative order. Re-running
// the same inputs yields the same sequence; input-file iteration order
// never breaks ties.
func Merge(streams ...[]NormalizedEvent) []NormalizedEvent {
	var merged []NormalizedEvent
	for _, stream := range streams {
		merged = append(merged, stream...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Ref.File != b.Ref.File {
			return a.Ref.File < b.Ref.File
		}
		return a.Seq < b.Seq
	})
	return merged
}
