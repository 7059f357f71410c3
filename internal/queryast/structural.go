package queryast

import "strings"

const (
	implementsPrefix = "implements:"
	extendsPrefix    = "extends:"
)

// ParseImplementsTarget returns the first whitespace-delimited token after
// the "implements:" prefix, trimmed. It returns ("", false) when q does not
// start with the prefix (case-sensitive) or is blank after it.
func ParseImplementsTarget(q string) (string, bool) {
	return parseStructuralTarget(q, implementsPrefix)
}

// ParseExtendsTarget is the "extends:" counterpart of ParseImplementsTarget.
func ParseExtendsTarget(q string) (string, bool) {
	return parseStructuralTarget(q, extendsPrefix)
}

func parseStructuralTarget(q, prefix string) (string, bool) {
	if !strings.HasPrefix(q, prefix) {
		return "", false
	}
	rest := strings.TrimSpace(q[len(prefix):])
	if rest == "" {
		return "", false
	}
	fields := strings.Fields(rest)
	target := fields[0]
	if target == "" {
		return "", false
	}
	return target, true
}
