// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package seqdiff compares two DNA sequences of a shared locus and
// reports the segments where they differ. The wildtype pipeline stage
// uses it to verify that a mutant window and its reconstructed
// wild-type window differ in exactly one contiguous segment.
package seqdiff

import (
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Segment is one run of differing bases: at 0-based Position in the
// first sequence, Ref (bases from the first sequence) is replaced by
// New (bases from the second).
type Segment struct {
	Position int
	Ref      string
	New      string
}

// Diff returns the differing segments between sequences a and b, in
// order of position. The second return value reports whether the
// computation hit the timeout (in which case the result may be a
// coarser-than-minimal but still correct segmentation).
func Diff(a, b string, timeout time.Duration) ([]Segment, bool) {
	dmp := diffmatchpatch.New()
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	diffs := dmp.DiffBisect(a, b, deadline)
	timedOut := timeout > 0 && time.Now().After(deadline)
	diffs = cleanup(dmp.DiffCleanupEfficiency(diffs))
	pos := 0
	var segments []Segment
	for i := 0; i < len(diffs); {
		for ; i < len(diffs) && diffs[i].Type == diffmatchpatch.DiffEqual; i++ {
			pos += len(diffs[i].Text)
		}
		if i >= len(diffs) {
			break
		}
		seg := Segment{Position: pos}
		for ; i < len(diffs) && diffs[i].Type != diffmatchpatch.DiffEqual; i++ {
			if diffs[i].Type == diffmatchpatch.DiffDelete {
				seg.Ref += diffs[i].Text
			} else {
				seg.New += diffs[i].Text
			}
		}
		pos += len(seg.Ref)
		segments = append(segments, seg)
	}
	return segments, timedOut
}

// Single reports whether a and b differ in exactly one contiguous
// same-length substitution, and returns it.
func Single(a, b string) (Segment, bool) {
	segments, _ := Diff(a, b, time.Second)
	if len(segments) != 1 {
		return Segment{}, false
	}
	seg := segments[0]
	if len(seg.Ref) != len(seg.New) {
		return Segment{}, false
	}
	return seg, true
}

func cleanup(in []diffmatchpatch.Diff) (out []diffmatchpatch.Diff) {
	out = make([]diffmatchpatch.Diff, 0, len(in))
	for i := 0; i < len(in); i++ {
		d := in[i]
		// Merge consecutive entries of same type (e.g.,
		// "insert A; insert B")
		for i < len(in)-1 && in[i].Type == in[i+1].Type {
			d.Text += in[i+1].Text
			i++
		}
		out = append(out, d)
	}
	in, out = out, make([]diffmatchpatch.Diff, 0, len(in))
	for i := 0; i < len(in); i++ {
		d := in[i]
		// diffmatchpatch solves diff("AAX","XTX") with
		// [delAA,=X,insTX] but we prefer to spell it
		// [delAA,insXT,=X].
		//
		// So, when we see a [del,=,ins] sequence where the
		// "=" part is a suffix of the "ins" part -- e.g.,
		// [delAAA,=CGG,insTTTCGG] -- we rearrange it to the
		// equivalent spelling [delAAA,insCGGTTT,=CGG].
		if i < len(in)-2 &&
			d.Type == diffmatchpatch.DiffDelete &&
			in[i+1].Type == diffmatchpatch.DiffEqual &&
			in[i+2].Type == diffmatchpatch.DiffInsert &&
			strings.HasSuffix(in[i+2].Text, in[i+1].Text) {
			eq, ins := in[i+1], in[i+2]
			ins.Text = eq.Text + ins.Text[:len(ins.Text)-len(eq.Text)]
			in[i+1] = ins
			in[i+2] = eq
		}
		out = append(out, d)
	}
	return
}
