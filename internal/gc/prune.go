// Package gc selects expired cache resources for deletion under a
// keep-N-newest plus optional max-age policy. It is a pure policy evaluator:
// callers supply resource metadata and perform the actual deletions.
package gc

import (
	"sort"
	"time"
)

// Resource is a named deletable unit with a creation timestamp. For volume
// pruning there is one resource per namespace, timestamped by its newest
// member volume.
type Resource struct {
	Name    string
	Created time.Time
}

// Policy is the retention rule applied during pruning.
type Policy struct {
	// Keep is the number of newest resources always retained.
	Keep int

	// OlderThanDays, when > 0, additionally restricts candidates to
	// resources older than the cutoff.
	OlderThanDays int
}

// SelectCandidates returns the resources that fall outside the Keep newest
// and, when an age limit is set, are older than the cutoff. The input slice
// is not modified; candidates come back newest-first.
func SelectCandidates(resources []Resource, policy Policy, now time.Time) []Resource {
	sorted := make([]Resource, len(resources))
	copy(sorted, resources)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Created.After(sorted[j].Created)
	})

	var cutoff time.Time
	if policy.OlderThanDays > 0 {
		cutoff = now.AddDate(0, 0, -policy.OlderThanDays)
	}

	var candidates []Resource
	for idx, r := range sorted {
		if idx < policy.Keep {
			continue
		}
		if policy.OlderThanDays > 0 && !r.Created.Before(cutoff) {
			continue
		}
		candidates = append(candidates, r)
	}
	return candidates
}

// VolumeMeta is one managed volume's identity as read from engine labels.
type VolumeMeta struct {
	Name      string
	Namespace string
	// CreatedAt is nil when the engine did not report a creation time;
	// such volumes count as "just created" so they are never the reason
	// a namespace gets pruned early.
	CreatedAt *time.Time
}

// Plan groups volumes by owning namespace, evaluates the policy per
// namespace, and returns the selected namespaces plus the flattened,
// sorted list of volume names to delete. A namespace is deleted whole:
// its cache volumes are only coherent together.
func Plan(volumes []VolumeMeta, policy Policy, now time.Time) (candidates []Resource, toDelete []string) {
	byNamespace := make(map[string][]VolumeMeta)
	for _, v := range volumes {
		byNamespace[v.Namespace] = append(byNamespace[v.Namespace], v)
	}

	resources := make([]Resource, 0, len(byNamespace))
	for ns, members := range byNamespace {
		created := now
		var have bool
		for _, m := range members {
			if m.CreatedAt == nil {
				continue
			}
			if !have || m.CreatedAt.After(created) {
				created = *m.CreatedAt
				have = true
			}
		}
		resources = append(resources, Resource{Name: ns, Created: created})
	}

	candidates = SelectCandidates(resources, policy, now)

	seen := make(map[string]bool)
	for _, c := range candidates {
		for _, m := range byNamespace[c.Name] {
			if !seen[m.Name] {
				seen[m.Name] = true
				toDelete = append(toDelete, m.Name)
			}
		}
	}
	sort.Strings(toDelete)
	return candidates, toDelete
}
