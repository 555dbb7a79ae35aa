package indicators

import "math"

// TailResult is the outcome of a tail-operator evaluation. Indeterminate
// means insufficient history: callers treat it as "not triggered" and do not
// count the evaluation for stats.
type TailResult struct {
	Ok            bool
	Indeterminate bool
}

// EvalTail evaluates a comparison operator between the series x and the
// reference series y at the last closed bar index i. Cross operators also
// read bar i-1. NaN on either side makes the result indeterminate.
func EvalTail(op string, x, y []float64, i int) TailResult {
	if i < 0 || i >= len(x) || i >= len(y) {
		return TailResult{Indeterminate: true}
	}
	if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
		return TailResult{Indeterminate: true}
	}

	switch op {
	case "gt":
		return ok(x[i] > y[i])
	case "lt":
		return ok(x[i] < y[i])
	case "ge":
		return ok(x[i] >= y[i])
	case "le":
		return ok(x[i] <= y[i])
	case "eq":
		return ok(x[i] == y[i])
	case "closes_above":
		return ok(x[i] > y[i])
	case "closes_below":
		return ok(x[i] < y[i])
	case "crosses_above":
		if i < 1 || math.IsNaN(x[i-1]) || math.IsNaN(y[i-1]) {
			return TailResult{Indeterminate: true}
		}
		return ok(x[i-1] <= y[i-1] && x[i] > y[i])
	case "crosses_below":
		if i < 1 || math.IsNaN(x[i-1]) || math.IsNaN(y[i-1]) {
			return TailResult{Indeterminate: true}
		}
		return ok(x[i-1] >= y[i-1] && x[i] < y[i])
	default:
		return TailResult{Indeterminate: true}
	}
}

// EvalBetween checks lower <= x[i] <= upper at the last closed bar.
func EvalBetween(x []float64, lower, upper float64, i int) TailResult {
	if i < 0 || i >= len(x) || math.IsNaN(x[i]) {
		return TailResult{Indeterminate: true}
	}
	return ok(x[i] >= lower && x[i] <= upper)
}
