package stem

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	slugPattern    = regexp.MustCompile(`[^a-z0-9]+`)
	silencePattern = regexp.MustCompile(`^silence\.([0-9]+)ms$`)
	stemPattern    = regexp.MustCompile(`^stem\.([a-z]+)\.([a-z0-9_]+)$`)
	segmentPattern = regexp.MustCompile(`^segment\.([a-z0-9_]+)$`)
)

// Slugify converts free text into a filesystem-safe slug.
func Slugify(text string) string {
	cleaned := strings.ToLower(strings.TrimSpace(text))
	cleaned = slugPattern.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if cleaned == "" {
		return "unnamed"
	}
	return cleaned
}

// ID builds the canonical identifier for a categorized stem,
// e.g. "stem.name.maria" or "stem.developer.nova_labs".
func ID(cat Category, label string) string {
	if cat == CategorySilence {
		panic("silence identifiers are duration-derived; use SilenceID")
	}
	return fmt.Sprintf("stem.%s.%s", cat, Slugify(label))
}

// SilenceID builds the identifier for a silence stem of the given duration.
func SilenceID(durationMS int) string {
	return fmt.Sprintf("silence.%dms", durationMS)
}

// SegmentID builds the identifier for a template segment stem.
func SegmentID(segmentID string) string {
	return "segment." + Slugify(segmentID)
}

// Filename is the on-disk name for an identifier.
func Filename(id string) string {
	return id + ".wav"
}

// OutputFilename builds the deterministic merged-output name:
// output.<subject>.<timestamp>.<merge-mode>.wav
func OutputFilename(subject, mergeMode string, at time.Time) string {
	ts := at.UTC().Format("20060102_150405")
	return fmt.Sprintf("output.%s.%s.%s.wav", Slugify(subject), ts, Slugify(mergeMode))
}

// ParseID splits an identifier into category and label.
// Segment stems report CategoryGeneric; unrecognized shapes return ok=false.
func ParseID(id string) (Category, string, bool) {
	if m := silencePattern.FindStringSubmatch(id); m != nil {
		return CategorySilence, m[1] + "ms", true
	}
	if m := segmentPattern.FindStringSubmatch(id); m != nil {
		return CategoryGeneric, m[1], true
	}
	if m := stemPattern.FindStringSubmatch(id); m != nil {
		cat, err := ParseCategory(m[1])
		if err != nil {
			return "", "", false
		}
		if cat == CategorySilence {
			return "", "", false
		}
		return cat, m[2], true
	}
	return "", "", false
}

// SilenceDuration extracts the duration from a silence identifier.
func SilenceDuration(id string) (int, bool) {
	m := silencePattern.FindStringSubmatch(id)
	if m == nil {
		return 0, false
	}
	var ms int
	if _, err := fmt.Sscanf(m[1], "%d", &ms); err != nil {
		return 0, false
	}
	return ms, true
}

// LabelText reconstructs human text from a slug label, e.g. "nova_labs"
// becomes "Nova Labs". Used when a stem must be regenerated from its
// identifier alone.
func LabelText(label string) string {
	words := strings.Split(label, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
