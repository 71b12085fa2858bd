package algo

import (
	"math"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

const (
	// DefaultHazardLambda is the expected run length between changepoints.
	DefaultHazardLambda = 250.0

	maxRunLength         = 500
	changepointThreshold = 0.5
)

type ChangepointOptions struct {
	HazardLambda         float64
	IncludeProbabilities bool
}

// Changepoints holds one flag and one probability per input point.
// Probabilities are null when they were not requested.
type Changepoints struct {
	Flags         *array.Boolean
	Probabilities *array.Float64
	Indices       []int
}

func (c *Changepoints) Release() {
	c.Flags.Release()
	c.Probabilities.Release()
}

// normalGamma holds the posterior of a Normal-Gamma model.
type normalGamma struct {
	mu, kappa, alpha, beta float64
}

func (p normalGamma) update(x float64) normalGamma {
	d := x - p.mu
	return normalGamma{
		mu:    (p.kappa*p.mu + x) / (p.kappa + 1),
		kappa: p.kappa + 1,
		alpha: p.alpha + 0.5,
		beta:  p.beta + p.kappa*d*d/(2*(p.kappa+1)),
	}
}

// logPredictive is the log density of the Student-t posterior predictive.
func (p normalGamma) logPredictive(x float64) float64 {
	nu := 2 * p.alpha
	scale2 := p.beta * (p.kappa + 1) / (p.alpha * p.kappa)
	d := x - p.mu
	lg1, _ := math.Lgamma((nu + 1) / 2)
	lg2, _ := math.Lgamma(nu / 2)
	return lg1 - lg2 - 0.5*math.Log(nu*math.Pi*scale2) - (nu+1)/2*math.Log1p(d*d/(nu*scale2))
}

// DetectChangepoints runs Bayesian online changepoint detection with a
// constant hazard. The probability at position t is the posterior mass of
// a new run starting at t. Invalid values repeat the previous valid one.
// At least three valid points are required.
func DetectChangepoints(mem memory.Allocator, values []float64, valid []bool, opts ChangepointOptions) (*Changepoints, error) {
	n := len(values)
	if valid != nil && len(valid) != n {
		return nil, errorf(CodeInvalidInput, "%d values but %d validity flags", n, len(valid))
	}
	if n < 3 {
		return nil, errorf(CodeInsufficientData, "need at least 3 points, got %d", n)
	}

	x, err := impute(values, valid)
	if err != nil {
		return nil, err
	}
	prior := priorFor(x)

	lambda := opts.HazardLambda
	if lambda <= 0 {
		lambda = DefaultHazardLambda
	}
	hazard := 1 / math.Max(lambda, 1)
	logH, log1mH := math.Log(hazard), math.Log1p(-hazard)

	// logR[l] is the log posterior of the current run holding l points.
	logR := []float64{0}
	params := []normalGamma{prior}
	probs := make([]float64, n)

	for t, xt := range x {
		next := make([]float64, len(logR)+1)
		nextParams := make([]normalGamma, len(logR)+1)
		next[0] = math.Inf(-1)
		nextParams[0] = prior
		for l, lr := range logR {
			next[l+1] = lr + log1mH + params[l].logPredictive(xt)
			nextParams[l+1] = params[l].update(xt)
		}
		// A changepoint right before xt starts a run holding only xt.
		cp := logH + prior.logPredictive(xt)
		next[1] = logAddExp(next[1], cp)

		if len(next) > maxRunLength+1 {
			next = next[:maxRunLength+1]
			nextParams = nextParams[:maxRunLength+1]
		}

		total := logSumExp(next)
		if math.IsInf(total, -1) || math.IsNaN(total) {
			return nil, errorf(CodeComputation, "run length posterior degenerated at position %d", t)
		}
		if t > 0 {
			probs[t] = math.Exp(cp - total)
		}
		for l := range next {
			next[l] -= total
		}
		logR, params = next, nextParams
	}

	flags := array.NewBooleanBuilder(mem)
	defer flags.Release()
	probabilities := array.NewFloat64Builder(mem)
	defer probabilities.Release()
	flags.Reserve(n)
	probabilities.Reserve(n)

	var indices []int
	for t, p := range probs {
		isCP := t > 0 && p > changepointThreshold
		flags.Append(isCP)
		if isCP {
			indices = append(indices, t)
		}
		if opts.IncludeProbabilities {
			probabilities.Append(p)
		} else {
			probabilities.AppendNull()
		}
	}

	return &Changepoints{
		Flags:         flags.NewBooleanArray(),
		Probabilities: probabilities.NewFloat64Array(),
		Indices:       indices,
	}, nil
}

func impute(values []float64, valid []bool) ([]float64, *Error) {
	first := -1
	count := 0
	for i, v := range values {
		if !isValid(valid, i) {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errorf(CodeInvalidInput, "non-finite value at position %d", i)
		}
		if first < 0 {
			first = i
		}
		count++
	}
	if count < 3 {
		return nil, errorf(CodeInsufficientData, "need at least 3 valid points, got %d", count)
	}

	x := make([]float64, len(values))
	last := values[first]
	for i, v := range values {
		if isValid(valid, i) {
			last = v
		}
		x[i] = last
	}
	return x, nil
}

// priorFor centers the prior on the series mean and scales it with the
// mean squared first difference, which tracks the noise level rather than
// the spread between regimes.
func priorFor(x []float64) normalGamma {
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))

	var msd float64
	for i := 1; i < len(x); i++ {
		d := x[i] - x[i-1]
		msd += d * d
	}
	msd /= float64(len(x) - 1)

	return normalGamma{
		mu:    mean,
		kappa: 1,
		alpha: 1,
		beta:  math.Max(msd/2, 1e-6),
	}
}

func logAddExp(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

func logSumExp(xs []float64) float64 {
	acc := math.Inf(-1)
	for _, x := range xs {
		acc = logAddExp(acc, x)
	}
	return acc
}
