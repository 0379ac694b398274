// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/check.v1"
)

type predictSuite struct{}

var _ = check.Suite(&predictSuite{})

// stubPredictor returns deterministic tracks derived from the
// sequence, and records how many remote calls were made.
type stubPredictor struct {
	mtx   sync.Mutex
	calls int
	fail  map[string]bool
}

func (sp *stubPredictor) Predict(ctx context.Context, sequence string) (TrackSet, error) {
	sp.mtx.Lock()
	sp.calls++
	sp.mtx.Unlock()
	if sp.fail[sequence] {
		return nil, errors.New("stub predictor failure")
	}
	base := float64(strings.Count(sequence, "A"))
	tracks := TrackSet{}
	for i, a := range assays {
		track := make([]float64, 300)
		for j := range track {
			track[j] = base + float64(i)
		}
		tracks[a.Name] = track
	}
	return tracks, nil
}

func (sp *stubPredictor) callCount() int {
	sp.mtx.Lock()
	defer sp.mtx.Unlock()
	return sp.calls
}

func testEntries(n int) []ReconstructedSequence {
	entries := make([]ReconstructedSequence, n)
	for i := range entries {
		entries[i] = ReconstructedSequence{
			VariantRecord: VariantRecord{
				VariantID:  fmt.Sprintf("v%03d", i),
				Chromosome: "chr1",
				Start:      1000 + i,
				End:        1012 + i,
				Strand:     "+",
				Log2Ratio:  float64(i),
			},
			Window:  strings.Repeat("ACGT", 10) + strings.Repeat("A", i),
			Success: true,
		}
	}
	return entries
}

func (s *predictSuite) TestBatchRun(c *check.C) {
	entries := testEntries(5)
	stub := &stubPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: c.MkDir(), Interval: 2, Threads: 3}
	results, err := bp.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)
	c.Assert(results, check.HasLen, 5)
	for i, p := range results {
		c.Check(p.VariantID, check.Equals, entries[i].VariantID)
		c.Check(p.Success, check.Equals, true)
		c.Check(p.Scores["dnase_center"], check.Equals, float64(10+i))
		c.Check(p.Scores["cage_max"], check.Equals, float64(10+i+2))
	}
	c.Check(stub.callCount(), check.Equals, 5)

	// 5 records at interval 2 = 3 checkpoint files
	ents, err := os.ReadDir(bp.CheckpointDir)
	c.Assert(err, check.IsNil)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	c.Check(names, check.DeepEquals, []string{"checkpoint_0001.csv", "checkpoint_0002.csv", "checkpoint_0003.csv"})
}

func (s *predictSuite) TestResumeFromCheckpoints(c *check.C) {
	entries := testEntries(5)
	dir := c.MkDir()

	stub := &stubPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: dir, Interval: 2}
	first, err := bp.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)

	// a fresh run over the same directory makes no remote calls
	stub2 := &stubPredictor{}
	bp2 := &batchPredictor{Predictor: stub2, CheckpointDir: dir, Interval: 2}
	second, err := bp2.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)
	c.Check(stub2.callCount(), check.Equals, 0)
	c.Assert(second, check.HasLen, len(first))
	for i := range first {
		c.Check(second[i].VariantID, check.Equals, first[i].VariantID)
		c.Check(second[i].Success, check.Equals, first[i].Success)
		for _, col := range predictionColumns {
			c.Check(second[i].Scores[col], check.Equals, first[i].Scores[col])
		}
	}
}

func (s *predictSuite) TestResumeWithRemainingRecords(c *check.C) {
	entries := testEntries(6)
	dir := c.MkDir()

	// first run covers a prefix and stops at a checkpoint boundary
	stub := &stubPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: dir, Interval: 2}
	_, err := bp.Run(context.Background(), entries[:4])
	c.Assert(err, check.IsNil)
	c.Check(stub.callCount(), check.Equals, 4)

	// the resumed run fetches only the unprocessed records and
	// numbers its checkpoints after the existing ones
	stub2 := &stubPredictor{}
	bp2 := &batchPredictor{Predictor: stub2, CheckpointDir: dir, Interval: 2}
	results, err := bp2.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)
	c.Check(stub2.callCount(), check.Equals, 2)
	c.Assert(results, check.HasLen, 6)
	for i, p := range results {
		c.Check(p.VariantID, check.Equals, entries[i].VariantID)
		c.Check(p.Success, check.Equals, true)
		c.Check(p.Scores["dnase_center"], check.Equals, float64(10+i))
	}
	ents, err := os.ReadDir(dir)
	c.Assert(err, check.IsNil)
	var names []string
	for _, ent := range ents {
		names = append(names, ent.Name())
	}
	c.Check(names, check.DeepEquals, []string{"checkpoint_0001.csv", "checkpoint_0002.csv", "checkpoint_0003.csv"})
}

func (s *predictSuite) TestTornCheckpointRefused(c *check.C) {
	entries := testEntries(6)
	dir := c.MkDir()

	stub := &stubPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: dir, Interval: 2}
	_, err := bp.Run(context.Background(), entries[:4])
	c.Assert(err, check.IsNil)

	// drop the last row of the last checkpoint, as a crash mid-write
	// would have before checkpoints were written atomically
	filename := dir + "/checkpoint_0002.csv"
	buf, err := os.ReadFile(filename)
	c.Assert(err, check.IsNil)
	lines := strings.SplitAfter(string(buf), "\n")
	c.Assert(len(lines) >= 3, check.Equals, true)
	err = os.WriteFile(filename, []byte(strings.Join(lines[:2], "")), 0666)
	c.Assert(err, check.IsNil)

	// resuming over more records must refuse rather than misalign
	// rows with input records
	bp2 := &batchPredictor{Predictor: &stubPredictor{}, CheckpointDir: dir, Interval: 2}
	_, err = bp2.Run(context.Background(), entries)
	c.Check(err, check.ErrorMatches, `.*not a whole number of 2-record batches.*`)

	// an incomplete checkpoint followed by a later one is refused even
	// when the total happens to divide evenly
	err = os.WriteFile(filename, buf, 0666)
	c.Assert(err, check.IsNil)
	err = os.WriteFile(dir+"/checkpoint_0001.csv", []byte(strings.Join(lines[:2], "")), 0666)
	c.Assert(err, check.IsNil)
	bp3 := &batchPredictor{Predictor: &stubPredictor{}, CheckpointDir: dir, Interval: 2}
	_, err = bp3.Run(context.Background(), entries)
	c.Check(err, check.ErrorMatches, `.*incomplete checkpoint.*`)
}

func (s *predictSuite) TestDeduplicateIdenticalWindows(c *check.C) {
	entries := testEntries(4)
	entries[3].Window = entries[0].Window
	stub := &stubPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: c.MkDir(), Interval: 10}
	results, err := bp.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)
	c.Check(stub.callCount(), check.Equals, 3)
	c.Check(results[3].Scores["dnase_center"], check.Equals, results[0].Scores["dnase_center"])
}

func (s *predictSuite) TestFailureIsolation(c *check.C) {
	entries := testEntries(4)
	stub := &stubPredictor{fail: map[string]bool{entries[1].Window: true}}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: c.MkDir(), Interval: 10}
	results, err := bp.Run(context.Background(), entries)
	c.Assert(err, check.IsNil)
	c.Assert(results, check.HasLen, 4)
	c.Check(results[1].Success, check.Equals, false)
	c.Check(results[1].Err, check.Matches, ".*stub predictor failure.*")
	c.Check(isNaN(results[1].Scores["dnase_center"]), check.Equals, true)
	for _, i := range []int{0, 2, 3} {
		c.Check(results[i].Success, check.Equals, true, check.Commentf("record %d", i))
	}
}

func (s *predictSuite) TestCancellation(c *check.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stub := &cancelledPredictor{}
	bp := &batchPredictor{Predictor: stub, CheckpointDir: c.MkDir(), Interval: 10}
	_, err := bp.Run(ctx, testEntries(3))
	c.Check(err, check.Equals, context.Canceled)
}

type cancelledPredictor struct{}

func (cancelledPredictor) Predict(ctx context.Context, sequence string) (TrackSet, error) {
	return nil, ctx.Err()
}
