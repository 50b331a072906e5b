package trigger

import (
	"path"
	"strings"
)

// matchAnyGlob reports whether value matches at least one pattern. An
// empty pattern list matches everything.
func matchAnyGlob(patterns []string, value string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchGlob(p, value) {
			return true
		}
	}
	return false
}

// matchAnyPath reports whether at least one of the event's paths matches
// at least one pattern. An empty pattern list matches everything; an
// event without paths cannot satisfy a non-empty path filter.
func matchAnyPath(patterns []string, paths []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range paths {
		if matchAnyGlob(patterns, p) {
			return true
		}
	}
	return false
}

// matchGlob matches slash-separated values against patterns where `*`
// matches within one segment and `**` matches any number of segments.
func matchGlob(pattern, value string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(value, "/"))
}

func matchSegments(pattern, value []string) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}
	if pattern[0] == "**" {
		// `**` consumes zero or more leading segments of the value.
		for i := 0; i <= len(value); i++ {
			if matchSegments(pattern[1:], value[i:]) {
				return true
			}
		}
		return false
	}
	if len(value) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], value[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], value[1:])
}
