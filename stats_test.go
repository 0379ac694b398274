// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"fmt"
	"math"

	"gopkg.in/check.v1"
)

type statsSuite struct{}

var _ = check.Suite(&statsSuite{})

func (s *statsSuite) TestPearson(c *check.C) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 3*x - 2
	}
	r, p := pearson(xs, ys)
	c.Check(fmt.Sprintf("%.9f", r), check.Equals, "1.000000000")
	c.Check(p < 1e-9, check.Equals, true)

	for i := range ys {
		ys[i] = -ys[i]
	}
	r, _ = pearson(xs, ys)
	c.Check(fmt.Sprintf("%.9f", r), check.Equals, "-1.000000000")

	// zero variance is undefined, not zero
	r, p = pearson(xs, []float64{5, 5, 5, 5, 5, 5, 5, 5})
	c.Check(math.IsNaN(r), check.Equals, true)
	c.Check(math.IsNaN(p), check.Equals, true)
}

func (s *statsSuite) TestPearsonFourRecords(c *check.C) {
	activity := []float64{1, 2, 3, 4}
	r, p := pearson([]float64{1, 2, 3, 4}, activity)
	c.Check(fmt.Sprintf("%.9f", r), check.Equals, "1.000000000")
	c.Check(p < 0.001, check.Equals, true)
	r, _ = pearson([]float64{4, 3, 2, 1}, activity)
	c.Check(fmt.Sprintf("%.9f", r), check.Equals, "-1.000000000")
}

func (s *statsSuite) TestRanks(c *check.C) {
	c.Check(ranks([]float64{10, 20, 20, 30}), check.DeepEquals, []float64{1, 2.5, 2.5, 4})
	c.Check(ranks([]float64{5, 5, 5}), check.DeepEquals, []float64{2, 2, 2})
	c.Check(ranks([]float64{3, 1, 2}), check.DeepEquals, []float64{3, 1, 2})
}

func (s *statsSuite) TestSpearman(c *check.C) {
	// monotone but nonlinear: rho is exactly 1, r is not
	xs := []float64{1, 2, 3, 4, 5, 6}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = math.Exp(x)
	}
	rho, p := spearman(xs, ys)
	c.Check(fmt.Sprintf("%.9f", rho), check.Equals, "1.000000000")
	c.Check(p < 1e-6, check.Equals, true)
	r, _ := pearson(xs, ys)
	c.Check(r < 1, check.Equals, true)
}

func (s *statsSuite) TestMedian(c *check.C) {
	c.Check(median([]float64{3, 1, 2}), check.Equals, 2.0)
	c.Check(median([]float64{4, 1, 3, 2}), check.Equals, 2.5)
	c.Check(math.IsNaN(median(nil)), check.Equals, true)
}

func (s *statsSuite) TestAUROC(c *check.C) {
	labels := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	scores := []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
	a, npos, nneg := auroc(scores, labels, median(labels))
	c.Check(a, check.Equals, 1.0)
	c.Check(npos, check.Equals, 5)
	c.Check(nneg, check.Equals, 5)

	// reversed scores give the complementary area
	rev := make([]float64, len(scores))
	for i, v := range scores {
		rev[len(scores)-1-i] = v
	}
	a, _, _ = auroc(rev, labels, median(labels))
	c.Check(a, check.Equals, 0.0)

	// one empty class is undefined
	a, npos, nneg = auroc(scores, labels, 100)
	c.Check(math.IsNaN(a), check.Equals, true)
	c.Check(npos, check.Equals, 0)
	c.Check(nneg, check.Equals, 10)
}

func (s *statsSuite) TestSummarizeCorrelationSmallN(c *check.C) {
	// a single pair yields NA everywhere, never a fabricated zero
	row := summarizeCorrelation("dnase_center", "", "", []float64{1}, []float64{2})
	c.Check(row.N, check.Equals, 1)
	c.Check(math.IsNaN(row.PearsonR), check.Equals, true)
	c.Check(math.IsNaN(row.SpearmanR), check.Equals, true)
	c.Check(math.IsNaN(row.AUROC), check.Equals, true)

	// 3..9 pairs: correlations defined, auroc still withheld
	preds := []float64{1, 2, 3, 4, 5}
	activity := []float64{2, 4, 6, 8, 10}
	row = summarizeCorrelation("dnase_center", "", "", preds, activity)
	c.Check(row.N, check.Equals, 5)
	c.Check(math.IsNaN(row.PearsonR), check.Equals, false)
	c.Check(math.IsNaN(row.AUROC), check.Equals, true)
}

func (s *statsSuite) TestSummarizeCorrelationDropsUnpaired(c *check.C) {
	preds := []float64{1, math.NaN(), 3, 4}
	activity := []float64{1, 2, math.NaN(), 4}
	row := summarizeCorrelation("dnase_center", "", "", preds, activity)
	c.Check(row.N, check.Equals, 2)
}

func (s *statsSuite) TestSummarizeCorrelationFull(c *check.C) {
	n := 20
	preds := make([]float64, n)
	activity := make([]float64, n)
	for i := 0; i < n; i++ {
		activity[i] = float64(i)
		preds[i] = float64(i) + math.Sin(float64(i))
	}
	row := summarizeCorrelation("dnase_center", "strand", "+", preds, activity)
	c.Check(row.Grouping, check.Equals, "strand")
	c.Check(row.Stratum, check.Equals, "+")
	c.Check(row.N, check.Equals, n)
	c.Check(row.PearsonR > 0.9, check.Equals, true)
	c.Check(row.SpearmanR > 0.9, check.Equals, true)
	c.Check(row.AUROC > 0.9, check.Equals, true)
	c.Check(row.Threshold, check.Equals, median(activity))
	c.Check(row.NPositive+row.NNegative, check.Equals, n)
}

func (s *statsSuite) TestWelchTTest(c *check.C) {
	same := []float64{1, 2, 3, 4, 5}
	t, df, p := welchTTest(same, same)
	c.Check(t, check.Equals, 0.0)
	c.Check(fmt.Sprintf("%.4f", df), check.Equals, "8.0000")
	c.Check(fmt.Sprintf("%.4f", p), check.Equals, "1.0000")

	t, _, p = welchTTest([]float64{10, 11, 12, 10, 11}, []float64{1, 2, 1, 2, 1})
	c.Check(t > 10, check.Equals, true)
	c.Check(p < 1e-4, check.Equals, true)

	t, df, p = welchTTest([]float64{1}, []float64{1, 2})
	c.Check(math.IsNaN(t), check.Equals, true)
	c.Check(math.IsNaN(df), check.Equals, true)
	c.Check(math.IsNaN(p), check.Equals, true)
}

func (s *statsSuite) TestQuantileBuckets(c *check.C) {
	values := []float64{9, 1, 8, 2, 7, 3, 6, 4, 5, 0}
	buckets := quantileBuckets(values, 4)
	c.Assert(buckets, check.HasLen, 4)
	total := 0
	var prev float64 = math.Inf(-1)
	for _, idx := range buckets {
		total += len(idx)
		for _, j := range idx {
			c.Check(values[j] >= prev, check.Equals, true)
			prev = values[j]
		}
	}
	c.Check(total, check.Equals, len(values))
}
