package template

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hybridaudio/stemforge/internal/errs"
)

var (
	placeholderRe = regexp.MustCompile(`\{([^}]+)\}`)
	markupRe      = regexp.MustCompile(`<[^>]+>`)
)

// Validation rule names, in checking order. The validator stops at the
// first violated rule so failures are deterministic.
const (
	RuleSegments       = "segments"
	RuleSegmentID      = "segment-id"
	RulePlainText      = "plain-text"
	RuleTiming         = "timing"
	RuleBreakCrossfade = "break-crossfade"
	RuleTransition     = "transition"
	RuleGraph          = "graph"
	RulePlaceholder    = "placeholder"
)

// Validate checks structural correctness and returns the first offending
// rule as a *errs.ValidationError. A nil result means the template can be
// resolved into a plan.
func Validate(t *Template) error {
	// (1) non-empty segment list
	if len(t.Segments) == 0 {
		return errs.Validation(RuleSegments, "template %q has no segments", t.Name)
	}

	// (2) unique, non-empty segment ids
	seen := make(map[string]bool, len(t.Segments))
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.ID) == "" {
			return errs.Validation(RuleSegmentID, "segment with empty id")
		}
		if seen[seg.ID] {
			return errs.Validation(RuleSegmentID, "duplicate segment id: %s", seg.ID)
		}
		seen[seg.ID] = true
	}

	// (3) plain text payloads only
	for _, seg := range t.Segments {
		if strings.TrimSpace(seg.Text) == "" {
			return errs.Validation(RulePlainText, "segment %s has empty text", seg.ID)
		}
		if markupRe.MatchString(seg.Text) {
			return errs.Validation(RulePlainText, "markup detected in segment %s", seg.ID)
		}
	}

	// (4) finite, non-negative timing values
	for _, seg := range t.Segments {
		fields := []struct {
			name  string
			value float64
		}{
			{"break_ms", seg.BreakMS},
			{"crossfade_ms", seg.CrossfadeMS},
			{"estimated_duration_ms", seg.EstimatedDurationMS},
		}
		for _, f := range fields {
			if err := checkNumeric(f.value, f.name, seg.ID); err != nil {
				return err
			}
		}
	}
	for _, tr := range t.Transitions {
		edge := tr.From + "->" + tr.To
		if err := checkNumeric(tr.GapMS, "gap_ms", edge); err != nil {
			return err
		}
		if err := checkNumeric(tr.CrossfadeMS, "crossfade_ms", edge); err != nil {
			return err
		}
	}

	// (5) break and crossfade are mutually exclusive per segment
	for _, seg := range t.Segments {
		if seg.BreakMS > 0 && seg.CrossfadeMS > 0 {
			return errs.Validation(RuleBreakCrossfade,
				"break_ms and crossfade_ms both set on segment %s", seg.ID)
		}
	}

	// (6) transitions reference known segments, no duplicate edges
	edges := make(map[[2]string]bool, len(t.Transitions))
	for _, tr := range t.Transitions {
		if !seen[tr.From] || !seen[tr.To] {
			return errs.Validation(RuleTransition,
				"transition references unknown segment: %s -> %s", tr.From, tr.To)
		}
		key := [2]string{tr.From, tr.To}
		if edges[key] {
			return errs.Validation(RuleTransition,
				"duplicate transition: %s -> %s", tr.From, tr.To)
		}
		edges[key] = true
	}

	// (7) acyclic graph with a single root reaching every segment
	if err := validateGraph(t); err != nil {
		return err
	}

	// (8) every placeholder token is declared (and none go unused)
	declared := make(map[string]bool, len(t.Placeholders))
	for _, p := range t.Placeholders {
		declared[p] = true
	}
	used := make(map[string]bool)
	for _, seg := range t.Segments {
		for _, m := range placeholderRe.FindAllStringSubmatch(seg.Text, -1) {
			used[m[1]] = true
		}
	}
	var undeclared []string
	for p := range used {
		if !declared[p] {
			undeclared = append(undeclared, p)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return errs.Validation(RulePlaceholder,
			"placeholders not declared: %s", strings.Join(undeclared, ", "))
	}
	var unused []string
	for p := range declared {
		if !used[p] {
			unused = append(unused, p)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return errs.Validation(RulePlaceholder,
			"declared placeholders never used: %s", strings.Join(unused, ", "))
	}

	return nil
}

func checkNumeric(v float64, field, where string) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errs.Validation(RuleTiming, "%s for %s must be finite", field, where)
	}
	if v < 0 {
		return errs.Validation(RuleTiming, "%s for %s cannot be negative (got %g)", field, where, v)
	}
	return nil
}

// validateGraph runs DFS coloring for cycle detection, then checks that
// exactly one root exists and reaches every segment.
func validateGraph(t *Template) error {
	if len(t.Segments) == 1 {
		return nil
	}

	adj := make(map[string][]string, len(t.Segments))
	indegree := make(map[string]int, len(t.Segments))
	for _, seg := range t.Segments {
		adj[seg.ID] = nil
		indegree[seg.ID] = 0
	}
	for _, tr := range t.Transitions {
		adj[tr.From] = append(adj[tr.From], tr.To)
		indegree[tr.To]++
	}

	// DFS coloring: white=unvisited, gray=on stack, black=done.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(t.Segments))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				// Extract the cycle members from the DFS stack.
				for i, v := range stack {
					if v == next {
						return append([]string(nil), stack[i:]...)
					}
				}
				return []string{next, id}
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, seg := range t.Segments {
		if color[seg.ID] == white {
			stack = stack[:0]
			if cycle := visit(seg.ID); cycle != nil {
				return errs.Validation(RuleGraph,
					"timing graph contains a cycle: %s", strings.Join(cycle, " -> "))
			}
		}
	}

	var roots []string
	for _, seg := range t.Segments {
		if indegree[seg.ID] == 0 {
			roots = append(roots, seg.ID)
		}
	}
	if len(roots) == 0 {
		return errs.Validation(RuleGraph, "no root segment detected")
	}
	if len(roots) > 1 {
		sort.Strings(roots)
		return errs.Validation(RuleGraph,
			"multiple roots detected: %s", strings.Join(roots, ", "))
	}

	reached := make(map[string]bool, len(t.Segments))
	queue := []string{roots[0]}
	reached[roots[0]] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if !reached[next] {
				reached[next] = true
				queue = append(queue, next)
			}
		}
	}
	var unreachable []string
	for _, seg := range t.Segments {
		if !reached[seg.ID] {
			unreachable = append(unreachable, seg.ID)
		}
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return errs.Validation(RuleGraph,
			"segments unreachable from root %s: %s", roots[0], strings.Join(unreachable, ", "))
	}

	return nil
}
