// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"os"

	"gopkg.in/check.v1"
)

type genomeSuite struct{}

var _ = check.Suite(&genomeSuite{})

func (s *genomeSuite) TestOpenGenome(c *check.C) {
	tmpdir := c.MkDir()
	fastaFile := tmpdir + "/ref.fasta"
	err := os.WriteFile(fastaFile, []byte(">NC_000001.1 Mus musculus chromosome 1\nacgtacgtac\ngtacgtacgt\n>NC_000002.2\nTTTTCCCC\n"), 0666)
	c.Assert(err, check.IsNil)
	chrMapFile := tmpdir + "/chrmap.tsv"
	err = os.WriteFile(chrMapFile, []byte("# UCSC\tRefSeq\nchr1\tNC_000001.1\nchr2\tNC_000002.2\n"), 0666)
	c.Assert(err, check.IsNil)

	genome, err := openGenome(fastaFile, "", chrMapFile)
	c.Assert(err, check.IsNil)
	defer genome.Close()

	n, err := genome.Len("chr1")
	c.Assert(err, check.IsNil)
	c.Check(n, check.Equals, 20)

	// alias resolution and case folding
	seq, err := genome.Get("chr1", 8, 12)
	c.Assert(err, check.IsNil)
	c.Check(seq, check.Equals, "ACGT")

	// the assembly's own names still work
	seq, err = genome.Get("NC_000002.2", 0, 4)
	c.Assert(err, check.IsNil)
	c.Check(seq, check.Equals, "TTTT")

	_, err = genome.Get("chrMT", 0, 4)
	c.Check(err, check.ErrorMatches, `.*chrMT.*`)
	_, err = genome.Len("chrMT")
	c.Check(err, check.ErrorMatches, `.*chrMT.*`)
}

func (s *genomeSuite) TestLoadChrMap(c *check.C) {
	tmpdir := c.MkDir()
	filename := tmpdir + "/map.tsv"
	err := os.WriteFile(filename, []byte("\n# comment\nchrX\tNC_000086.8\n"), 0666)
	c.Assert(err, check.IsNil)
	alias, err := loadChrMap(filename)
	c.Assert(err, check.IsNil)
	c.Check(alias, check.DeepEquals, map[string]string{"chrX": "NC_000086.8"})

	err = os.WriteFile(filename, []byte("chrX\n"), 0666)
	c.Assert(err, check.IsNil)
	_, err = loadChrMap(filename)
	c.Check(err, check.ErrorMatches, `.*invalid alias line.*`)
}
