// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var glmConfig = &glm.Config{
	Family:         glm.NewFamily(glm.BinomialFamily),
	FitMethod:      "IRLS",
	ConcurrentIRLS: 1000,
	Log:            log.New(io.Discard, "", 0),
}

func normalize(a []float64) {
	mean, std := stat.MeanStdDev(a, nil)
	for i, x := range a {
		a[i] = (x - mean) / std
	}
}

// logitPValue fits a logistic regression of the high/low activity
// label on the normalized prediction metric and returns the
// likelihood-ratio p-value against the intercept-only model.
func logitPValue(preds []float64, high []bool) (p float64) {
	defer func() {
		if recover() != nil {
			// typically "matrix singular or near-singular with condition number +Inf"
			p = math.NaN()
		}
	}()
	n := len(preds)
	if n < minAUROCSamples {
		return math.NaN()
	}
	xs := append([]float64(nil), preds...)
	if stat.Variance(xs, nil) == 0 {
		return math.NaN()
	}
	normalize(xs)

	outcome := make([]statmodel.Dtype, n)
	constants := make([]statmodel.Dtype, n)
	series := make([]statmodel.Dtype, n)
	for i := range xs {
		if high[i] {
			outcome[i] = 1
		}
		constants[i] = 1
		series[i] = statmodel.Dtype(xs[i])
	}

	nullData := statmodel.NewDataset(
		[][]statmodel.Dtype{outcome, constants},
		[]string{"outcome", "constants"})
	nullModel, err := glm.NewGLM(nullData, "outcome", []string{"constants"}, glmConfig)
	if err != nil {
		return math.NaN()
	}
	logNull := nullModel.Fit().LogLike()

	fullData := statmodel.NewDataset(
		[][]statmodel.Dtype{outcome, constants, series},
		[]string{"outcome", "constants", "prediction"})
	fullModel, err := glm.NewGLM(fullData, "outcome", []string{"constants", "prediction"}, glmConfig)
	if err != nil {
		return math.NaN()
	}
	logFull := fullModel.Fit().LogLike()

	dist := distuv.ChiSquared{K: 1}
	return dist.Survival(-2 * (logNull - logFull))
}
