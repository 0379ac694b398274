// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Minimum sample sizes below which statistics are reported as
// undefined rather than computed on degenerate data.
const (
	minCorrelationSamples = 3
	minAUROCSamples       = 10
)

// CorrelationSummary is one row of a benchmark report: paired-sample
// statistics for one prediction metric, either overall (empty Stratum)
// or within one value of a grouping column. Undefined statistics are
// NaN and serialize as "NA".
type CorrelationSummary struct {
	Metric    string
	Grouping  string
	Stratum   string
	N         int
	PearsonR  float64
	PearsonP  float64
	SpearmanR float64
	SpearmanP float64
	AUROC     float64
	Threshold float64
	NPositive int
	NNegative int
}

// dropUnpaired returns the rows where both columns are defined.
func dropUnpaired(xs, ys []float64) ([]float64, []float64) {
	var xout, yout []float64
	for i := range xs {
		if !math.IsNaN(xs[i]) && !math.IsNaN(ys[i]) {
			xout = append(xout, xs[i])
			yout = append(yout, ys[i])
		}
	}
	return xout, yout
}

// correlationPValue is the two-sided p-value for a Pearson or Spearman
// coefficient under the t approximation with n-2 degrees of freedom.
func correlationPValue(r float64, n int) float64 {
	if n < 3 || math.IsNaN(r) {
		return math.NaN()
	}
	if 1-r*r <= 0 {
		return 0
	}
	t := r * math.Sqrt(float64(n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.CDF(-math.Abs(t))
}

// pearson returns the Pearson coefficient and its two-sided p-value.
// Sign is preserved exactly as computed.
func pearson(xs, ys []float64) (r, p float64) {
	n := len(xs)
	if n < 2 || stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return math.NaN(), math.NaN()
	}
	r = stat.Correlation(xs, ys, nil)
	return r, correlationPValue(r, n)
}

// ranks assigns 1-based ranks, averaging over ties.
func ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })
	out := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && xs[idx[j]] == xs[idx[i]] {
			j++
		}
		// ranks i+1..j averaged over the tie run
		mean := float64(i+1+j) / 2
		for k := i; k < j; k++ {
			out[idx[k]] = mean
		}
		i = j
	}
	return out
}

// spearman is the Pearson coefficient of the tie-averaged ranks.
func spearman(xs, ys []float64) (rho, p float64) {
	if len(xs) < 2 {
		return math.NaN(), math.NaN()
	}
	return pearson(ranks(xs), ranks(ys))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// auroc treats scores as the classifier output and labels>threshold as
// the positive class. It returns NaN when either class is empty.
func auroc(scores, labels []float64, threshold float64) (a float64, npos, nneg int) {
	classes := make([]bool, len(labels))
	for i, v := range labels {
		if v > threshold {
			classes[i] = true
			npos++
		} else {
			nneg++
		}
	}
	if npos == 0 || nneg == 0 {
		return math.NaN(), npos, nneg
	}
	y := append([]float64(nil), scores...)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), npos, nneg
}

// summarizeCorrelation computes one CorrelationSummary from paired
// prediction and measured-activity columns. Degenerate inputs (below
// the minimum sample size, or zero variance in either column) yield
// NaN statistics, never zero and never an error.
func summarizeCorrelation(metric, grouping, stratum string, preds, activity []float64) CorrelationSummary {
	xs, ys := dropUnpaired(activity, preds)
	row := CorrelationSummary{
		Metric:    metric,
		Grouping:  grouping,
		Stratum:   stratum,
		N:         len(xs),
		PearsonR:  math.NaN(),
		PearsonP:  math.NaN(),
		SpearmanR: math.NaN(),
		SpearmanP: math.NaN(),
		AUROC:     math.NaN(),
		Threshold: math.NaN(),
	}
	if len(xs) >= minCorrelationSamples {
		row.PearsonR, row.PearsonP = pearson(xs, ys)
		row.SpearmanR, row.SpearmanP = spearman(xs, ys)
	}
	if len(xs) >= minAUROCSamples {
		row.Threshold = median(xs)
		row.AUROC, row.NPositive, row.NNegative = auroc(ys, xs, row.Threshold)
	}
	return row
}

// welchTTest compares two independent samples without assuming equal
// variances, returning the t statistic, Welch-Satterthwaite degrees of
// freedom, and two-sided p-value.
func welchTTest(xs, ys []float64) (t, df, p float64) {
	if len(xs) < 2 || len(ys) < 2 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	mx, sx := stat.MeanStdDev(xs, nil)
	my, sy := stat.MeanStdDev(ys, nil)
	vx := sx * sx / float64(len(xs))
	vy := sy * sy / float64(len(ys))
	if vx+vy == 0 {
		return math.NaN(), math.NaN(), math.NaN()
	}
	t = (mx - my) / math.Sqrt(vx+vy)
	df = (vx + vy) * (vx + vy) /
		(vx*vx/float64(len(xs)-1) + vy*vy/float64(len(ys)-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return t, df, 2 * dist.CDF(-math.Abs(t))
}

// quantileBuckets partitions indices into n equal-frequency buckets by
// the given values, lowest bucket first. Bucket sizes differ by at
// most one.
func quantileBuckets(values []float64, n int) [][]int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return values[idx[i]] < values[idx[j]] })
	buckets := make([][]int, n)
	for b := 0; b < n; b++ {
		lo := b * len(idx) / n
		hi := (b + 1) * len(idx) / n
		buckets[b] = append([]int(nil), idx[lo:hi]...)
	}
	return buckets
}
