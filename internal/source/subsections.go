package source

import (
	"regexp"
	"strings"
)

// subsectionMarker matches statutory subsection markers: "(a)",
// "(a)(1)", "(a)(2)(A)". Markers must start at a line or follow
// whitespace so inline parentheticals like "(see below)" do not split.
var subsectionMarker = regexp.MustCompile(`(?m)(?:^|\s)(\([a-z0-9]+\)(?:\([a-z0-9]+\))*)`)

// SplitSubsections scans text for subsection markers and splits it
// sequentially at match boundaries. The text before the first marker is
// discarded from subsections (it stays in the section's own text). Each
// block is attached to the marker that precedes it. Returns nil when
// fewer than two markers are found; a single marker carries no
// structure worth splitting on.
func SplitSubsections(text string) []Subsection {
	matches := subsectionMarker.FindAllStringSubmatchIndex(text, -1)
	if len(matches) < 2 {
		return nil
	}

	subs := make([]Subsection, 0, len(matches))
	for i, m := range matches {
		// m[2], m[3] delimit the capture group (the marker itself).
		id := text[m[2]:m[3]]
		start := m[3]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][2]
		}
		body := strings.TrimSpace(text[start:end])
		if body == "" {
			continue
		}
		subs = append(subs, Subsection{ID: id, Text: id + " " + body})
	}
	if len(subs) < 2 {
		return nil
	}
	return subs
}
