package server

import (
	"sort"

	"github.com/agio-run/agio/pkg/trace"
)

// waterfallEntry is one flattened, depth-annotated span for a
// waterfall-chart UI.
type waterfallEntry struct {
	RunID      string         `json:"run_id"`
	Kind       trace.Kind     `json:"kind"`
	Name       string         `json:"name"`
	Depth      int            `json:"depth"`
	StartMS    int64          `json:"start_offset_ms"`
	DurationMS int64          `json:"duration_ms"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// flattenWaterfall walks root's span tree into a depth-annotated,
// start-time-sorted list — the shape a waterfall UI renders directly
// without re-deriving offsets from nested timestamps itself.
func flattenWaterfall(root *trace.Span) []waterfallEntry {
	var entries []waterfallEntry
	var walk func(s *trace.Span, depth int)
	walk = func(s *trace.Span, depth int) {
		start := int64(0)
		if !root.StartTime.IsZero() && !s.StartTime.IsZero() {
			start = s.StartTime.Sub(root.StartTime).Milliseconds()
		}
		entries = append(entries, waterfallEntry{
			RunID:      s.RunID,
			Kind:       s.Kind,
			Name:       s.Name,
			Depth:      depth,
			StartMS:    start,
			DurationMS: s.DurationMS(),
			Attributes: s.Attributes,
		})
		for _, child := range s.Children {
			walk(child, depth+1)
		}
	}
	walk(root, 0)

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].StartMS < entries[j].StartMS })
	return entries
}
