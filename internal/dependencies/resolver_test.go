package dependencies

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/versions"
)

func key(artifactID string) versions.Key {
	return versions.NewKey("org.example", artifactID, "1.0.0")
}

func record(target versions.Key, dependencies ...versions.Key) projects.VersionRecord {
	return projects.VersionRecord{Key: target, Dependencies: dependencies}
}

func excludedRecord(target versions.Key) projects.VersionRecord {
	return projects.VersionRecord{Key: target, Excluded: true}
}

func TestResolve_NoDependencies(t *testing.T) {
	leaf := key("leaf")
	resolver := NewResolver(Universe{leaf: record(leaf)})

	report, err := resolver.Resolve(context.Background(), leaf)

	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Transitive)
}

func TestResolve_LinearChain(t *testing.T) {
	a, b, c := key("a"), key("b"), key("c")
	resolver := NewResolver(Universe{
		a: record(a, b),
		b: record(b, c),
		c: record(c),
	})

	report, err := resolver.Resolve(context.Background(), a)

	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, []versions.Key{b, c}, report.Transitive)
}

func TestResolve_DiamondDeduplicated(t *testing.T) {
	a, b, c, d := key("a"), key("b"), key("c"), key("d")
	resolver := NewResolver(Universe{
		a: record(a, b, c),
		b: record(b, d),
		c: record(c, d),
		d: record(d),
	})

	report, err := resolver.Resolve(context.Background(), a)

	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, []versions.Key{b, c, d}, report.Transitive)
}

func TestResolve_SelfNeverInOwnClosure(t *testing.T) {
	a, b := key("a"), key("b")
	resolver := NewResolver(Universe{
		a: record(a, b),
		b: record(b),
	})

	report, err := resolver.Resolve(context.Background(), a)

	require.NoError(t, err)
	assert.NotContains(t, report.Transitive, a)
}

func TestResolve_CycleYieldsInvalidReport(t *testing.T) {
	a, b := key("a"), key("b")
	resolver := NewResolver(Universe{
		a: record(a, b),
		b: record(b, a),
	})

	report, err := resolver.Resolve(context.Background(), a)

	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Empty(t, report.Transitive)
}

func TestResolve_ExcludedMidChainInvalidatesAncestors(t *testing.T) {
	a, b, c, d := key("a"), key("b"), key("c"), key("d")
	resolver := NewResolver(Universe{
		a: record(a, b),
		b: record(b, c),
		c: excludedRecord(c),
		d: record(d),
	})

	reportA, err := resolver.Resolve(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, reportA.Valid)
	assert.Empty(t, reportA.Transitive)

	reportB, err := resolver.Resolve(context.Background(), b)
	require.NoError(t, err)
	assert.False(t, reportB.Valid)

	// An unrelated branch is unaffected by the excluded chain.
	reportD, err := resolver.Resolve(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, reportD.Valid)
}

func TestResolve_MissingMidChainInvalidatesAncestors(t *testing.T) {
	a, b := key("a"), key("b")
	resolver := NewResolver(Universe{
		a: record(a, b),
		// b has no record in the universe
	})

	report, err := resolver.Resolve(context.Background(), a)

	require.NoError(t, err)
	assert.False(t, report.Valid)
}

func TestResolve_DirectTargetMissingIsError(t *testing.T) {
	resolver := NewResolver(Universe{})

	_, err := resolver.Resolve(context.Background(), key("ghost"))

	assert.ErrorIs(t, err, ErrVersionMissing)
}

func TestResolve_DirectTargetExcludedIsError(t *testing.T) {
	banned := key("banned")
	resolver := NewResolver(Universe{banned: excludedRecord(banned)})

	_, err := resolver.Resolve(context.Background(), banned)

	assert.ErrorIs(t, err, ErrVersionExcluded)
}

func TestResolve_IdempotentAcrossResolvers(t *testing.T) {
	a, b, c, d := key("a"), key("b"), key("c"), key("d")
	universe := Universe{
		a: record(a, b, c),
		b: record(b, d),
		c: record(c, d),
		d: record(d),
	}

	first, err := NewResolver(universe).Resolve(context.Background(), a)
	require.NoError(t, err)

	second, err := NewResolver(universe).Resolve(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestResolveAll_SharedMemoMatchesSequential(t *testing.T) {
	a, b, c, d, e := key("a"), key("b"), key("c"), key("d"), key("e")
	universe := Universe{
		a: record(a, b, c),
		b: record(b, d),
		c: record(c, d),
		d: record(d, e),
		e: record(e),
	}
	targets := []versions.Key{a, b, c, d, e}

	bulk, err := NewResolver(universe).ResolveAll(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, bulk, len(targets))

	for _, target := range targets {
		sequential, err := NewResolver(universe).Resolve(context.Background(), target)
		require.NoError(t, err)
		assert.Equal(t, sequential, bulk[target], "target %s", target)
	}
}

func TestResolveAll_ExcludedSiblingGetsInvalidReport(t *testing.T) {
	a, banned := key("a"), key("banned")
	universe := Universe{
		a:      record(a),
		banned: excludedRecord(banned),
	}

	reports, err := NewResolver(universe).ResolveAll(context.Background(), []versions.Key{a, banned})

	require.NoError(t, err)
	assert.True(t, reports[a].Valid)
	assert.False(t, reports[banned].Valid)
	assert.Empty(t, reports[banned].Transitive)
}

func TestResolveAll_MissingTargetAbortsBatch(t *testing.T) {
	a := key("a")
	universe := Universe{a: record(a)}

	_, err := NewResolver(universe).ResolveAll(context.Background(), []versions.Key{a, key("ghost")})

	assert.ErrorIs(t, err, ErrVersionMissing)
}

func TestResolveAll_ConcurrentCyclicGraphTerminates(t *testing.T) {
	// Every target resolves over a graph where a large cycle feeds shared
	// acyclic tails. The claimer-id ordering must keep concurrent passes from
	// deadlocking on each other's in-progress entries.
	a, b, c, d, e := key("a"), key("b"), key("c"), key("d"), key("e")
	universe := Universe{
		a: record(a, b),
		b: record(b, c),
		c: record(c, a, d),
		d: record(d, e),
		e: record(e),
	}
	targets := []versions.Key{a, b, c, d, e}

	reports, err := NewResolver(universe).ResolveAll(context.Background(), targets)

	require.NoError(t, err)
	assert.False(t, reports[a].Valid)
	assert.False(t, reports[b].Valid)
	assert.False(t, reports[c].Valid)
	assert.True(t, reports[d].Valid)
	assert.Equal(t, []versions.Key{e}, reports[d].Transitive)
	assert.True(t, reports[e].Valid)
}

func TestResolve_CancelledContext(t *testing.T) {
	a, b := key("a"), key("b")
	resolver := NewResolver(Universe{a: record(a, b), b: record(b)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := resolver.Resolve(ctx, a)

	assert.ErrorIs(t, err, context.Canceled)
}
