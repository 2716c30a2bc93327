package invariants

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/avs/pkg/contracts"
)

// Results maps invariant name to one Result per trace, aligned with the
// trace order passed to Evaluate.
type Results map[string][]Result

// Failures counts failing results for name.
func (r Results) Failures(name string) int {
	n := 0
	for _, res := range r[name] {
		if !res.Pass {
			n++
		}
	}
	return n
}

// TracePassed reports whether every invariant passed on trace i.
func (r Results) TracePassed(i int) bool {
	for _, per := range r {
		if i < len(per) && !per[i].Pass {
			return false
		}
	}
	return true
}

// Evaluator runs every registered invariant against every trace. Traces
// are never modified; independent traces are checked concurrently.
type Evaluator struct {
	invariants  []Invariant
	concurrency int
}

// NewEvaluator returns an Evaluator over invs, run in the given order.
func NewEvaluator(invs []Invariant) *Evaluator {
	return &Evaluator{invariants: invs, concurrency: runtime.GOMAXPROCS(0)}
}

// WithConcurrency bounds the number of traces evaluated at once.
func (e *Evaluator) WithConcurrency(n int) *Evaluator {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

// CheckTrace runs every invariant on one trace.
func (e *Evaluator) CheckTrace(trace contracts.Trace) map[string]Result {
	out := make(map[string]Result, len(e.invariants))
	for _, inv := range e.invariants {
		out[inv.Name()] = inv.Check(trace)
	}
	return out
}

// Evaluate checks all traces. It returns early only on cancellation.
func (e *Evaluator) Evaluate(ctx context.Context, traces []contracts.Trace) (Results, error) {
	results := make(Results, len(e.invariants))
	for _, inv := range e.invariants {
		results[inv.Name()] = make([]Result, len(traces))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range traces {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Each goroutine owns column i; no two write the same slot.
			for name, res := range e.CheckTrace(traces[i]) {
				results[name][i] = res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
