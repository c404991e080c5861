package template

import (
	"math"
	"sort"
)

// Step is one linearized plan entry: the segment to speak plus the
// transition into it from the previous step. The first step always has
// zero gap and zero crossfade.
type Step struct {
	Segment     Segment
	GapMS       float64
	CrossfadeMS float64
}

// Plan is the validated, ordered execution plan for a template. SilenceMS
// lists every distinct silence duration the merge will need, ascending.
type Plan struct {
	TemplateName string
	Steps        []Step
	SilenceMS    []int
}

// Resolve validates the template and linearizes its timing graph.
// Segments are emitted in topological order with ties broken by
// declaration order, so identical input always yields an identical plan.
// defaultCrossfadeMS applies to adjacent pairs with no transition and no
// segment-level timing.
func Resolve(t *Template, defaultCrossfadeMS float64) (*Plan, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}

	order := linearize(t)

	edges := make(map[[2]string]Transition, len(t.Transitions))
	for _, tr := range t.Transitions {
		edges[[2]string{tr.From, tr.To}] = tr
	}

	steps := make([]Step, 0, len(order))
	silence := make(map[int]bool)
	for i, seg := range order {
		step := Step{Segment: seg}
		if i > 0 {
			prev := order[i-1]
			if tr, ok := edges[[2]string{prev.ID, seg.ID}]; ok {
				step.GapMS = tr.GapMS
				step.CrossfadeMS = tr.CrossfadeMS
			} else if prev.BreakMS > 0 {
				step.GapMS = prev.BreakMS
			} else if prev.CrossfadeMS > 0 {
				step.CrossfadeMS = prev.CrossfadeMS
			} else {
				step.CrossfadeMS = defaultCrossfadeMS
			}
			if step.GapMS > 0 {
				// Silence stems are addressed in whole milliseconds, so a
				// fractional gap is rounded once here and the rounded value
				// drives both the registered stem and the inserted frames.
				step.GapMS = math.Round(step.GapMS)
				if step.GapMS > 0 {
					silence[int(step.GapMS)] = true
				}
			}
		}
		steps = append(steps, step)
	}

	durations := make([]int, 0, len(silence))
	for ms := range silence {
		durations = append(durations, ms)
	}
	sort.Ints(durations)

	return &Plan{TemplateName: t.Name, Steps: steps, SilenceMS: durations}, nil
}

// linearize orders segments topologically; among simultaneously ready
// nodes the one declared first wins. Declaration index, never id ordering
// or map iteration, breaks every tie.
func linearize(t *Template) []Segment {
	index := make(map[string]int, len(t.Segments))
	for i, seg := range t.Segments {
		index[seg.ID] = i
	}

	adj := make(map[string][]string, len(t.Segments))
	indegree := make(map[string]int, len(t.Segments))
	for _, seg := range t.Segments {
		indegree[seg.ID] = 0
	}
	for _, tr := range t.Transitions {
		adj[tr.From] = append(adj[tr.From], tr.To)
		indegree[tr.To]++
	}

	var ready []string
	for _, seg := range t.Segments {
		if indegree[seg.ID] == 0 {
			ready = append(ready, seg.ID)
		}
	}

	order := make([]Segment, 0, len(t.Segments))
	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if index[ready[i]] < index[ready[best]] {
				best = i
			}
		}
		id := ready[best]
		ready = append(ready[:best], ready[best+1:]...)

		order = append(order, t.Segments[index[id]])
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
