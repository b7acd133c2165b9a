package index

import "math"

// WeightingPolicy selects how constituent weights are computed.
type WeightingPolicy string

const (
	WeightEqual  WeightingPolicy = "EQUAL"
	WeightScore  WeightingPolicy = "SCORE_WEIGHTED"
	WeightSharpe WeightingPolicy = "SHARPE_WEIGHTED"
	WeightVolume WeightingPolicy = "VOLUME_WEIGHTED"
)

// weightTolerance is the accepted deviation of the final weight sum from 1.
const weightTolerance = 1e-6

// rawWeights computes pre-cap weights for the chosen policy. A zero or
// negative denominator degrades to equal weights.
func rawWeights(policy WeightingPolicy, candidates []candidate) []float64 {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	metric := func(c candidate) float64 { return 1 }
	switch policy {
	case WeightScore:
		metric = func(c candidate) float64 { return c.Score.TotalScore }
	case WeightSharpe:
		metric = func(c candidate) float64 { return math.Max(0, c.Sharpe) }
	case WeightVolume:
		metric = func(c candidate) float64 { return c.Profile.TotalVolume }
	}

	sum := 0.0
	w := make([]float64, n)
	for i, c := range candidates {
		w[i] = metric(c)
		sum += w[i]
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// CapAndNormalize caps each weight at max and redistributes the residual mass
// over the uncapped constituents, iterating until no weight exceeds the cap.
// The result sums to 1 within tolerance. Idempotent: reapplying returns the
// same weights. When the cap is infeasible (max*n < 1) weights degrade to
// equal and the cap is ignored.
func CapAndNormalize(w []float64, max float64) []float64 {
	n := len(w)
	if n == 0 {
		return w
	}

	out := make([]float64, n)
	copy(out, w)
	normalize(out)

	if max <= 0 || max*float64(n) < 1-weightTolerance {
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}

	capped := make([]bool, n)
	for iter := 0; iter < n; iter++ {
		over := false
		for i := range out {
			if !capped[i] && out[i] > max+weightTolerance {
				out[i] = max
				capped[i] = true
				over = true
			}
		}
		if !over {
			break
		}

		residual := 1.0
		uncappedSum := 0.0
		for i := range out {
			if capped[i] {
				residual -= max
			} else {
				uncappedSum += out[i]
			}
		}
		if uncappedSum <= 0 {
			break
		}
		for i := range out {
			if !capped[i] {
				out[i] = out[i] / uncappedSum * residual
			}
		}
	}
	return out
}

func normalize(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(len(w))
		}
		return
	}
	for i := range w {
		w[i] /= sum
	}
}
