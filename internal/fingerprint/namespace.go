package fingerprint

import "strings"

// nsPrefix scopes every boxci-owned volume name.
const nsPrefix = "boxci"

// Namespace derives the cache-volume namespace for one (project, job,
// environment) triple: boxci_<project>_<job>_<first 12 hex of envID>.
// Deterministic and total; it never fails, even on empty inputs.
func Namespace(project, job, envID string) string {
	if len(envID) > 12 {
		envID = envID[:12]
	}
	return nsPrefix + "_" + safeSegment(project) + "_" + safeSegment(job) + "_" + envID
}

// safeSegment lower-cases ASCII letters and digits and keeps `_-.`; every
// other character folds to `_` so the result is valid in volume names and
// filesystem paths.
func safeSegment(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == '.':
			b.WriteRune(c)
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
