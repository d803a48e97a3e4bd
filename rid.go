package resclient

import "strings"

// splitQuery splits rid into its base id and optional "?query" suffix
// (SPEC_FULL.md A.6: query resources). The query string, if present, is
// kept verbatim - it is never normalized or re-sorted here, since that is
// a server-side concern.
func splitQuery(rid string) (base, query string) {
	i := strings.IndexByte(rid, '?')
	if i < 0 {
		return rid, ""
	}
	return rid[:i], rid[i+1:]
}

// typePrefix returns rid's type prefix (its first two dot-segments, or the
// whole base id if shorter), ignoring any "?query" suffix.
func typePrefix(rid string) string {
	base, _ := splitQuery(rid)
	dots := 0
	for i, c := range base {
		if c == '.' {
			dots++
			if dots == 2 {
				return base[:i]
			}
		}
	}
	return base
}
