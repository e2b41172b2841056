// Package build drives full compilation runs. It compiles a set of
// policies through a bounded worker pool with per-policy failure
// isolation: one policy that fails to compile is reported alongside its
// siblings' results instead of aborting them.
//
// Output order is deterministic regardless of worker scheduling, so two
// runs over identical inputs produce identical artifacts.
package build

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/rowguard/rowguard"
	"github.com/rowguard/rowguard/pkg/compiler"
	"github.com/rowguard/rowguard/pkg/ctxmap"
	"github.com/rowguard/rowguard/pkg/schema"
)

// Options configure a run.
type Options struct {
	// Mapping resolves session providers to actor fields. Nil uses the
	// built-in mappings only.
	Mapping *ctxmap.Mapping

	// Graph resolves column references. Nil treats every column as a
	// direct field of its policy's entity.
	Graph *schema.Graph

	// Workers bounds concurrent compilations. Zero or negative means
	// GOMAXPROCS.
	Workers int
}

// Failure records one policy that did not compile.
type Failure struct {
	Policy rowguard.Policy
	Err    error
}

// Result is the outcome of one run. Compiled is ordered by entity then
// operation; Failures by policy key.
type Result struct {
	// RunID correlates one run's artifacts and diagnostics across logs
	// and reports.
	RunID string

	Compiled []rowguard.CompiledPolicy
	Failures []Failure
}

// Diagnostics flattens the compiled policies' diagnostics in output
// order.
func (r Result) Diagnostics() []rowguard.Diagnostic {
	var out []rowguard.Diagnostic
	for _, cp := range r.Compiled {
		out = append(out, cp.Diagnostics...)
	}
	return out
}

// Run compiles every policy. The only run-level error is failure to set
// up the worker pool; everything per-policy lands in Result.Failures.
func Run(policies []rowguard.Policy, opts Options) (Result, error) {
	res := Result{RunID: uuid.New().String()}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return Result{}, fmt.Errorf("creating worker pool: %w", err)
	}
	defer pool.Release()

	type outcome struct {
		cp  rowguard.CompiledPolicy
		err error
	}

	// Indexed slots keep the outcome order independent of worker
	// scheduling.
	outcomes := make([]outcome, len(policies))
	var wg sync.WaitGroup
	for i, p := range policies {
		i, p := i, p // per-iteration copies; the go directive predates Go 1.22 loop scoping
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					outcomes[i] = outcome{err: fmt.Errorf("panic compiling %s: %v", p.Key(), v)}
				}
			}()
			cp, err := compiler.CompilePolicy(p, opts.Mapping, opts.Graph)
			outcomes[i] = outcome{cp: cp, err: err}
		}
		if err := pool.Submit(task); err != nil {
			outcomes[i] = outcome{err: fmt.Errorf("submitting compile task: %w", err)}
			wg.Done()
		}
	}
	wg.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, Failure{Policy: policies[i], Err: o.err})
			continue
		}
		res.Compiled = append(res.Compiled, o.cp)
	}

	rowguard.SortCompiled(res.Compiled)
	sort.SliceStable(res.Failures, func(i, j int) bool {
		return res.Failures[i].Policy.Key() < res.Failures[j].Policy.Key()
	})
	return res, nil
}
