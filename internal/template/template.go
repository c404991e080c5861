// Package template models declarative message templates and resolves their
// timing graph into a linear, gap-free execution plan.
package template

import "strings"

// Segment is one spoken unit of a template. BreakMS and CrossfadeMS are
// mutually exclusive defaults for the transition out of this segment;
// explicit transitions override them.
type Segment struct {
	ID                  string  `json:"id"`
	Text                string  `json:"text"`
	BreakMS             float64 `json:"break_ms,omitempty"`
	CrossfadeMS         float64 `json:"crossfade_ms,omitempty"`
	EstimatedDurationMS float64 `json:"estimated_duration_ms,omitempty"`
}

// Transition is a directed edge of the timing graph with its timing
// overrides for the pair it connects.
type Transition struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	GapMS       float64 `json:"gap_ms,omitempty"`
	CrossfadeMS float64 `json:"crossfade_ms,omitempty"`
}

// Template is an immutable message definition. Construct once, never edit.
type Template struct {
	Name         string       `json:"template_name"`
	Segments     []Segment    `json:"segments"`
	Placeholders []string     `json:"placeholders,omitempty"`
	Transitions  []Transition `json:"timing_map,omitempty"`
}

// Substitute returns a copy of the template with every declared
// {placeholder} token replaced by its value. The original is untouched.
func Substitute(t *Template, values map[string]string) *Template {
	out := *t
	out.Segments = make([]Segment, len(t.Segments))
	copy(out.Segments, t.Segments)
	for i := range out.Segments {
		text := out.Segments[i].Text
		for k, v := range values {
			text = strings.ReplaceAll(text, "{"+k+"}", v)
		}
		out.Segments[i].Text = text
	}
	return &out
}
