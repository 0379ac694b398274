// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"fmt"

	"gopkg.in/check.v1"
)

type prepareSuite struct{}

var _ = check.Suite(&prepareSuite{})

func (s *prepareSuite) TestSampleRecords(c *check.C) {
	recs := make([]VariantRecord, 100)
	for i := range recs {
		recs[i] = VariantRecord{VariantID: fmt.Sprintf("v%03d", i)}
	}
	sample := sampleRecords(recs, 10, 42)
	c.Assert(sample, check.HasLen, 10)
	// same seed, same subset
	c.Check(sampleRecords(recs, 10, 42), check.DeepEquals, sample)
	// different seed, different subset (with overwhelming probability)
	c.Check(sampleRecords(recs, 10, 43), check.Not(check.DeepEquals), sample)
	// input order preserved
	for i := 1; i < len(sample); i++ {
		c.Check(sample[i-1].VariantID < sample[i].VariantID, check.Equals, true)
	}
	// sample size clamped to the dataset
	c.Check(sampleRecords(recs, 1000, 42), check.HasLen, 100)
}

func (s *prepareSuite) TestPoolLabel(c *check.C) {
	c.Check(poolLabel("/data/mpra/pool_9.tsv.gz"), check.Equals, "pool_9")
	c.Check(poolLabel("pool_A.txt"), check.Equals, "pool_A")
	c.Check(poolLabel("counts.tsv"), check.Equals, "counts")
}
