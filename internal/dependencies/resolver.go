// Package dependencies computes transitive-dependency reports for artifact
// versions.
//
// Resolution is a pure computation over a snapshot of version records (the
// "universe"): the resolver never reads the store or the upstream repository.
// A shared memo table gives every key at most one computation per pass, so
// diamond-shaped graphs resolve each shared dependency once and concurrent
// resolutions of independent targets converge on the same results. The same
// universe always produces the same closures regardless of evaluation order
// or parallelism.
package dependencies

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/depot-io/depot/internal/projects"
	"github.com/depot-io/depot/internal/versions"
)

// Sentinel errors for resolution of directly-requested targets.
//
// Mid-chain, the same structural problems degrade to an invalid report on the
// affected ancestor instead of an error; only the initial call surfaces them.
var (
	// ErrVersionMissing is returned when the requested target has no record
	// in the universe.
	ErrVersionMissing = errors.New("version not found in universe")

	// ErrVersionExcluded is returned when the requested target is excluded.
	ErrVersionExcluded = errors.New("version is excluded")
)

// defaultResolveConcurrency bounds parallel target resolution in ResolveAll.
const defaultResolveConcurrency = 8

// Universe is the snapshot of version records a resolution pass computes over.
type Universe map[versions.Key]projects.VersionRecord

type (
	// Resolver memoizes dependency resolution over one universe snapshot.
	//
	// A Resolver is tied to the universe it was created with: reuse across
	// passes would serve reports computed from stale records. Create a new
	// Resolver per recomputation pass.
	Resolver struct {
		universe Universe

		mu      sync.Mutex
		entries map[versions.Key]*memoEntry
		nextID  atomic.Int64
	}

	// memoEntry is one slot of the shared memo table. The first resolution to
	// claim a key computes its report; others wait on done. Claiming is an
	// atomic insert-if-absent under mu, which guarantees at-most-one
	// published computation per key.
	memoEntry struct {
		claimer int64
		done    chan struct{}
		report  projects.DependencyReport
	}

	// resolution is one depth-first pass rooted at a single target. The
	// visiting set is the DFS stack used for cycle detection.
	resolution struct {
		id       int64
		resolver *Resolver
		visiting map[versions.Key]bool
	}
)

// NewResolver creates a resolver over a universe snapshot.
func NewResolver(universe Universe) *Resolver {
	return &Resolver{
		universe: universe,
		entries:  make(map[versions.Key]*memoEntry),
	}
}

// Resolve computes the transitive-dependency report for one target.
//
// A target that is itself absent from the universe or excluded is a hard
// failure: there is nothing meaningful to report and the caller must decide
// whether to fail or skip. Structural problems deeper in the chain (missing,
// excluded, or cyclic dependencies) are not errors; they yield a report with
// Valid=false and an empty set. An unexpected fault (context cancellation)
// is returned as an error.
func (r *Resolver) Resolve(ctx context.Context, target versions.Key) (projects.DependencyReport, error) {
	record, ok := r.universe[target]
	if !ok {
		return projects.InvalidReport(), fmt.Errorf("%w: %s", ErrVersionMissing, target)
	}

	if record.Excluded {
		return projects.InvalidReport(), fmt.Errorf("%w: %s", ErrVersionExcluded, target)
	}

	pass := &resolution{
		id:       r.nextID.Add(1),
		resolver: r,
		visiting: make(map[versions.Key]bool),
	}

	return pass.resolve(ctx, target)
}

// ResolveAll resolves every target concurrently over the shared memo table.
//
// Targets that are excluded are bulk-processed as siblings: they yield an
// invalid report instead of failing the batch. A target missing from the
// universe aborts the whole batch, as does any unexpected computation fault:
// a half-computed universe is never committed.
func (r *Resolver) ResolveAll(ctx context.Context, targets []versions.Key) (map[versions.Key]projects.DependencyReport, error) {
	reports := make(map[versions.Key]projects.DependencyReport, len(targets))

	var mu sync.Mutex

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(defaultResolveConcurrency)

	for _, target := range targets {
		group.Go(func() error {
			record, ok := r.universe[target]
			if !ok {
				return fmt.Errorf("%w: %s", ErrVersionMissing, target)
			}

			var report projects.DependencyReport

			if record.Excluded {
				report = projects.InvalidReport()
			} else {
				pass := &resolution{
					id:       r.nextID.Add(1),
					resolver: r,
					visiting: make(map[versions.Key]bool),
				}

				var err error

				report, err = pass.resolve(ctx, target)
				if err != nil {
					return err
				}
			}

			mu.Lock()
			reports[target] = report
			mu.Unlock()

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return reports, nil
}

// resolve returns the memoized report for key, computing it if this pass wins
// the claim.
func (p *resolution) resolve(ctx context.Context, key versions.Key) (projects.DependencyReport, error) {
	// A key already on this DFS stack means the chain loops back on itself.
	// Cyclic closures are never safely computable.
	if p.visiting[key] {
		return projects.InvalidReport(), nil
	}

	r := p.resolver

	r.mu.Lock()

	entry, ok := r.entries[key]
	if !ok {
		entry = &memoEntry{claimer: p.id, done: make(chan struct{})}
		r.entries[key] = entry
		r.mu.Unlock()

		report, err := p.compute(ctx, key)
		if err != nil {
			// Publish the invalid report so waiters unblock; the error still
			// aborts this pass.
			report = projects.InvalidReport()
		}

		r.mu.Lock()
		entry.report = report
		r.mu.Unlock()
		close(entry.done)

		return report, err
	}

	claimer := entry.claimer
	r.mu.Unlock()

	select {
	case <-entry.done:
		return entry.report, nil
	default:
	}

	if claimer == p.id {
		// In-progress entry claimed by this same pass but not on the visiting
		// stack: the chain re-entered through a published local computation.
		// Treat as a cycle.
		return projects.InvalidReport(), nil
	}

	if p.id > claimer {
		// Wait for the older pass to publish. Id ordering makes wait edges
		// acyclic, so concurrent passes over a cyclic subgraph cannot
		// deadlock each other.
		select {
		case <-entry.done:
			return entry.report, nil
		case <-ctx.Done():
			return projects.InvalidReport(), ctx.Err()
		}
	}

	// Younger pass holds the claim: compute locally without publishing.
	// Deterministic resolution over a fixed universe means the local report
	// equals the one the claimer will publish.
	return p.compute(ctx, key)
}

// compute derives the report for key from its record and the memoized reports
// of its direct dependencies.
func (p *resolution) compute(ctx context.Context, key versions.Key) (projects.DependencyReport, error) {
	if err := ctx.Err(); err != nil {
		return projects.InvalidReport(), err
	}

	record, ok := p.resolver.universe[key]
	if !ok || record.Excluded {
		// Mid-chain missing or excluded dependency: the affected closure is
		// invalid, but sibling branches keep resolving.
		return projects.InvalidReport(), nil
	}

	if len(record.Dependencies) == 0 {
		return projects.DependencyReport{Valid: true}, nil
	}

	p.visiting[key] = true
	defer delete(p.visiting, key)

	closure := make(map[versions.Key]struct{})

	for _, dependency := range record.Dependencies {
		report, err := p.resolve(ctx, dependency)
		if err != nil {
			return projects.InvalidReport(), err
		}

		if !report.Valid {
			// An invalid dependency invalidates this whole closure.
			return projects.InvalidReport(), nil
		}

		closure[dependency] = struct{}{}

		for _, transitive := range report.Transitive {
			closure[transitive] = struct{}{}
		}
	}

	// Self never appears in its own closure, cycles aside.
	delete(closure, key)

	return projects.DependencyReport{Transitive: sortedKeys(closure), Valid: true}, nil
}

// sortedKeys flattens a closure set into a deterministic slice so that
// resolving the same universe twice yields identical reports.
func sortedKeys(set map[versions.Key]struct{}) []versions.Key {
	keys := make([]versions.Key, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}

	versions.SortKeys(keys)

	return keys
}
