// Package reconcile sorts screened symbols into alert buckets against the
// user's holdings.
package reconcile

import (
	"sort"

	"momentumwatch/pkg/model"
)

// ReasonNotScreened is used for a held symbol that produced neither a
// result nor a recorded failure
const ReasonNotScreened = "not screened"

// Reconcile places every result in at most one bucket:
//
//	held,     non-qualifying -> Exit
//	not held, qualifying     -> Watch
//	held,     qualifying     -> none (still strong)
//	not held, non-qualifying -> none
//
// Each failed symbol is listed in Unevaluated exactly once. A held symbol
// missing from both results and failures is also reported there.
func Reconcile(results []model.MomentumResult, holdings model.Holdings, failures []model.UnevaluatedEntry) model.Buckets {
	b := model.Buckets{
		Exit:        []model.Candidate{},
		Watch:       []model.Candidate{},
		Unevaluated: []model.UnevaluatedEntry{},
	}

	evaluated := make(map[model.Symbol]bool, len(results))
	for _, r := range results {
		if evaluated[r.Symbol] {
			continue
		}
		evaluated[r.Symbol] = true

		held := holdings.Has(r.Symbol)
		switch {
		case held && !r.Qualifies():
			b.Exit = append(b.Exit, model.Candidate{Result: r, Quantity: holdings[r.Symbol].Quantity})
		case !held && r.Qualifies():
			b.Watch = append(b.Watch, model.Candidate{Result: r})
		}
	}

	listed := make(map[model.Symbol]bool, len(failures))
	for _, f := range failures {
		if evaluated[f.Symbol] || listed[f.Symbol] {
			continue
		}
		listed[f.Symbol] = true
		f.Held = holdings.Has(f.Symbol)
		b.Unevaluated = append(b.Unevaluated, f)
	}
	for _, sym := range holdings.Symbols() {
		if evaluated[sym] || listed[sym] {
			continue
		}
		b.Unevaluated = append(b.Unevaluated, model.UnevaluatedEntry{Symbol: sym, Held: true, Reason: ReasonNotScreened})
	}

	sortBuckets(&b)
	return b
}

// Watch is strongest first, Exit weakest first. Unevaluated lists held
// symbols before the rest. Ties go by symbol so the order never depends on
// how the results arrived.
func sortBuckets(b *model.Buckets) {
	sort.SliceStable(b.Watch, func(i, j int) bool {
		a, c := b.Watch[i].Result, b.Watch[j].Result
		if a.PctChange != c.PctChange {
			return a.PctChange > c.PctChange
		}
		return a.Symbol < c.Symbol
	})
	sort.SliceStable(b.Exit, func(i, j int) bool {
		a, c := b.Exit[i].Result, b.Exit[j].Result
		if a.PctChange != c.PctChange {
			return a.PctChange < c.PctChange
		}
		return a.Symbol < c.Symbol
	})
	sort.SliceStable(b.Unevaluated, func(i, j int) bool {
		a, c := b.Unevaluated[i], b.Unevaluated[j]
		if a.Held != c.Held {
			return a.Held
		}
		return a.Symbol < c.Symbol
	})
}
