// Package citation parses inline citation markers from generated answers,
// verifies each against its claimed evidence, renumbers the survivors
// densely, and strips or replaces prose that cannot be grounded. The output
// invariant is a strict bijection between the bracket markers in the answer
// text and the returned reference list.
package citation

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	groupPattern = regexp.MustCompile(`\[([^\[\]]*)\]`)
	leadingInt   = regexp.MustCompile(`^\s*(\d+)`)
)

// markerGroup is one bracket group found in the draft, with the leading
// integers of its comma-separated segments and its byte span.
type markerGroup struct {
	indices []int
	start   int
	end     int
}

// parseMarkers scans text for bracket groups containing citation indices.
// Each comma-separated segment contributes its leading integer; trailing
// noise after the number is tolerated ("[5+L1-L3]" reads as 5). Groups with
// no leading-integer segment are not citations and are left alone.
func parseMarkers(text string) []markerGroup {
	var groups []markerGroup
	for _, loc := range groupPattern.FindAllStringSubmatchIndex(text, -1) {
		inner := text[loc[2]:loc[3]]

		var indices []int
		for _, segment := range strings.Split(inner, ",") {
			m := leadingInt.FindStringSubmatch(segment)
			if m == nil {
				continue
			}
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				continue
			}
			indices = append(indices, n)
		}
		if len(indices) == 0 {
			continue
		}

		groups = append(groups, markerGroup{
			indices: indices,
			start:   loc[0],
			end:     loc[1],
		})
	}
	return groups
}

// containsMarker reports whether text carries at least one citation marker.
func containsMarker(text string) bool {
	return len(parseMarkers(text)) > 0
}
