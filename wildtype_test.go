// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"

	"gopkg.in/check.v1"
)

type wildtypeSuite struct{}

var _ = check.Suite(&wildtypeSuite{})

func writePredictionCSV(c *check.C, filename string, rows []PredictionResult) {
	f, err := os.Create(filename)
	c.Assert(err, check.IsNil)
	w := csv.NewWriter(f)
	c.Assert(w.Write(predictionResultColumns), check.IsNil)
	for i := range rows {
		c.Assert(w.Write(rows[i].csvFields()), check.IsNil)
	}
	w.Flush()
	c.Assert(w.Error(), check.IsNil)
	c.Assert(f.Close(), check.IsNil)
}

func (s *wildtypeSuite) TestComparison(c *check.C) {
	tmpdir := c.MkDir()
	var mutant, wildtype []PredictionResult
	for i := 0; i < 12; i++ {
		rec := VariantRecord{
			VariantID:  fmt.Sprintf("v%02d", i),
			Chromosome: "chr1",
			Start:      100 * i,
			End:        100*i + 12,
			Strand:     "+",
			Log2Ratio:  float64(i),
		}
		mut := PredictionResult{VariantRecord: rec, Scores: nanScores(), Success: true}
		wt := PredictionResult{VariantRecord: rec, Scores: nanScores(), Success: true}
		for _, col := range predictionColumns {
			// wild-type scores track activity tightly, mutant
			// scores are noisier
			mut.Scores[col] = float64(i) + float64(i%5)
			wt.Scores[col] = float64(i) * 2
		}
		mutant = append(mutant, mut)
		wildtype = append(wildtype, wt)
	}
	// one extra mutant row with no wild-type partner drops out of the
	// join
	extra := mutant[0]
	extra.VariantID = "unpaired"
	mutant = append(mutant, extra)

	mutFile := tmpdir + "/mutant.csv"
	wtFile := tmpdir + "/wt.csv"
	writePredictionCSV(c, mutFile, mutant)
	writePredictionCSV(c, wtFile, wildtype)

	outdir := tmpdir + "/out"
	code := (&wildtypecmd{}).RunCommand("mprabench wildtype",
		[]string{"-mutant", mutFile, "-wt", wtFile, "-o", outdir},
		bytes.NewReader(nil), &bytes.Buffer{}, os.Stderr)
	c.Assert(code, check.Equals, 0)

	comparison := readTestCSV(c, outdir+"/comparison.csv")
	c.Assert(comparison.rows, check.HasLen, 12)
	for _, row := range comparison.rows {
		i := 0
		fmt.Sscanf(comparison.get(row, "variant_id"), "v%d", &i)
		mut := comparison.getFloat(row, "dnase_center")
		wt := comparison.getFloat(row, "wt_dnase_center")
		c.Check(mut, check.Equals, float64(i)+float64(i%5))
		c.Check(wt, check.Equals, float64(i)*2)
		c.Check(comparison.getFloat(row, "delta_dnase_center"), check.Equals, mut-wt)
	}

	summary := readTestCSV(c, outdir+"/correlation_comparison_summary.csv")
	c.Assert(summary.rows, check.HasLen, len(centerMetrics))
	for _, row := range summary.rows {
		c.Check(summary.get(row, "n"), check.Equals, "12")
		// perfect wild-type correlation beats the noisy mutant one
		c.Check(summary.getFloat(row, "wt_pearson_r") > 0.999999, check.Equals, true)
		c.Check(summary.getFloat(row, "mutant_pearson_r") < 0.99, check.Equals, true)
		c.Check(summary.get(row, "improvement"), check.Equals, "yes")
	}
}

func (s *wildtypeSuite) TestMissingArguments(c *check.C) {
	var stderr bytes.Buffer
	code := (&wildtypecmd{}).RunCommand("mprabench wildtype",
		[]string{"-mutant", "x.csv"},
		bytes.NewReader(nil), &bytes.Buffer{}, &stderr)
	c.Check(code, check.Equals, 2)
	c.Check(stderr.String(), check.Matches, `(?s).*-wt.*`)
}
