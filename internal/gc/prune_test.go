package gc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectCandidatesKeepsNewestN(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	resources := make([]Resource, 0, 5)
	for i := 0; i < 5; i++ {
		resources = append(resources, Resource{
			Name:    fmt.Sprintf("r%d", i),
			Created: now.AddDate(0, 0, -i),
		})
	}

	candidates := SelectCandidates(resources, Policy{Keep: 2}, now)
	require.Len(t, candidates, 3)
	assert.Equal(t, "r2", candidates[0].Name)
	assert.Equal(t, "r3", candidates[1].Name)
	assert.Equal(t, "r4", candidates[2].Name)
}

func TestSelectCandidatesIgnoresInputOrder(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// Oldest first this time; selection must be identical.
	var resources []Resource
	for i := 4; i >= 0; i-- {
		resources = append(resources, Resource{
			Name:    fmt.Sprintf("r%d", i),
			Created: now.AddDate(0, 0, -i),
		})
	}

	candidates := SelectCandidates(resources, Policy{Keep: 2}, now)
	require.Len(t, candidates, 3)
	assert.Equal(t, "r2", candidates[0].Name)
}

func TestSelectCandidatesAppliesAgeCutoff(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	resources := []Resource{
		{Name: "new", Created: now.AddDate(0, 0, -1)},
		{Name: "mid", Created: now.AddDate(0, 0, -5)},
		{Name: "old", Created: now.AddDate(0, 0, -30)},
	}

	// keep=0 but only resources older than 10 days qualify.
	candidates := SelectCandidates(resources, Policy{Keep: 0, OlderThanDays: 10}, now)
	require.Len(t, candidates, 1)
	assert.Equal(t, "old", candidates[0].Name)
}

func TestSelectCandidatesDoesNotModifyInput(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	resources := []Resource{
		{Name: "b", Created: now.AddDate(0, 0, -2)},
		{Name: "a", Created: now.AddDate(0, 0, -1)},
	}

	SelectCandidates(resources, Policy{Keep: 1}, now)
	assert.Equal(t, "b", resources[0].Name, "input slice order preserved")
}

func TestPlanDeletesWholeNamespaces(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	volumes := []VolumeMeta{
		{Name: "boxci_ns1_registry", Namespace: "boxci_ns1", CreatedAt: &jan},
		{Name: "boxci_ns1_build", Namespace: "boxci_ns1", CreatedAt: &jan},
		{Name: "boxci_ns2_registry", Namespace: "boxci_ns2", CreatedAt: &feb},
	}

	candidates, toDelete := Plan(volumes, Policy{Keep: 1}, now)
	require.Len(t, candidates, 1)
	assert.Equal(t, "boxci_ns1", candidates[0].Name)
	assert.Equal(t, []string{"boxci_ns1_build", "boxci_ns1_registry"}, toDelete)
}

func TestPlanTimestampsNamespaceByNewestMember(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	// ns1 has an old volume but also a recent one, so ns2 is older overall.
	volumes := []VolumeMeta{
		{Name: "boxci_ns1_registry", Namespace: "boxci_ns1", CreatedAt: &jan},
		{Name: "boxci_ns1_build", Namespace: "boxci_ns1", CreatedAt: &jul},
		{Name: "boxci_ns2_registry", Namespace: "boxci_ns2", CreatedAt: &feb},
	}

	candidates, toDelete := Plan(volumes, Policy{Keep: 1}, now)
	require.Len(t, candidates, 1)
	assert.Equal(t, "boxci_ns2", candidates[0].Name)
	assert.Equal(t, []string{"boxci_ns2_registry"}, toDelete)
}

func TestPlanTreatsMissingTimestampsAsFresh(t *testing.T) {
	jan := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

	volumes := []VolumeMeta{
		{Name: "boxci_ns1_registry", Namespace: "boxci_ns1", CreatedAt: &jan},
		{Name: "boxci_ns2_registry", Namespace: "boxci_ns2"}, // engine reported no timestamp
	}

	_, toDelete := Plan(volumes, Policy{Keep: 1}, now)
	assert.Equal(t, []string{"boxci_ns1_registry"}, toDelete)
}

func TestPlanEmptyInput(t *testing.T) {
	candidates, toDelete := Plan(nil, Policy{Keep: 3}, time.Now())
	assert.Empty(t, candidates)
	assert.Empty(t, toDelete)
}
