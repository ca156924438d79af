package policy

import "strings"

// match reports whether r matches path and how specific the match is.
// Specificity only compares rules of the same kind.
func (r *rule) match(path string) (bool, int) {
	switch r.kind {
	case kindExact:
		return path == r.pattern, len(r.pattern)
	case kindTemplate:
		return matchTemplate(r.segments, path)
	case kindPrefix:
		return strings.HasPrefix(path, r.pattern), len(r.pattern)
	case kindRegex:
		if loc := r.re.FindStringIndex(path); loc != nil {
			return true, loc[1] - loc[0]
		}
	}
	return false, 0
}

// matchTemplate scores a match by its number of literal segments, so
// "/tables/{name}/rows" beats "/tables/{name}/{view}".
func matchTemplate(segments []string, path string) (bool, int) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != len(segments) {
		return false, 0
	}
	literal := 0
	for i, seg := range segments {
		if isParam(seg) {
			if parts[i] == "" {
				return false, 0
			}
			continue
		}
		if seg != parts[i] {
			return false, 0
		}
		literal++
	}
	return true, literal
}

func isParam(seg string) bool {
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}
