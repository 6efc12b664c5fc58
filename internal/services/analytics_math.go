package services

import "math"

// epsilon guards divisions in normalisation and ratio calculations.
const epsilon = 1e-10

func calculateMeanFloat64(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStdDev returns the sample standard deviation (n-1).
func calculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := calculateMeanFloat64(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(values)-1)
	return math.Sqrt(variance)
}

// calculatePopulationStdDev returns the population standard deviation (n).
func calculatePopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := calculateMeanFloat64(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)))
}

// zNormalize rescales values to zero mean and unit variance.
func zNormalize(values []float64) []float64 {
	mean := calculateMeanFloat64(values)
	std := calculatePopulationStdDev(values)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = (v - mean) / (std + epsilon)
	}
	return out
}

// crossCorrelation computes c[k] = (1/n) * sum_i a[i+k]*b[i] for k in
// [-maxLag, maxLag]. The returned slice is indexed by k+maxLag.
func crossCorrelation(a, b []float64, maxLag int) []float64 {
	n := len(a)
	out := make([]float64, 2*maxLag+1)
	if n == 0 || len(b) != n {
		return out
	}
	for k := -maxLag; k <= maxLag; k++ {
		start, end := 0, n
		if k < 0 {
			start = -k
		} else {
			end = n - k
		}
		var sum float64
		for i := start; i < end; i++ {
			sum += a[i+k] * b[i]
		}
		out[k+maxLag] = sum / float64(n)
	}
	return out
}

// firstDifference returns x[i]-x[i-1] for i >= 1.
func firstDifference(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
