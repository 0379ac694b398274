// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/grailbio/bio/encoding/fasta"
	"github.com/pkg/errors"
)

// SequenceSource provides random access to reference bases by
// chromosome name and 0-based half-open coordinate range.
type SequenceSource interface {
	Get(chrom string, start, end int) (string, error)
	Len(chrom string) (int, error)
}

// refGenome is a SequenceSource backed by a FASTA reference, with an
// optional chromosome alias table for datasets whose chromosome names
// (chr1, chrX, ...) differ from the assembly's sequence names
// (NC_000067.5, ...).
type refGenome struct {
	fa      fasta.Fasta
	alias   map[string]string
	closers []io.Closer
}

func (g *refGenome) resolve(chrom string) string {
	if name, ok := g.alias[chrom]; ok {
		return name
	}
	return chrom
}

func (g *refGenome) Get(chrom string, start, end int) (string, error) {
	seq, err := g.fa.Get(g.resolve(chrom), uint64(start), uint64(end))
	if err != nil {
		return "", errors.Wrapf(err, "reference %s:%d-%d", chrom, start, end)
	}
	return strings.ToUpper(seq), nil
}

func (g *refGenome) Len(chrom string) (int, error) {
	n, err := g.fa.Len(g.resolve(chrom))
	if err != nil {
		return 0, errors.Wrapf(err, "reference %s", chrom)
	}
	return int(n), nil
}

func (g *refGenome) Close() error {
	var err error
	for _, c := range g.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openGenome opens a reference genome. With a .fai index the FASTA is
// read lazily from disk; otherwise it is loaded into memory.
func openGenome(fastaFile, faiFile, chrMapFile string) (*refGenome, error) {
	g := &refGenome{}
	if chrMapFile != "" {
		alias, err := loadChrMap(chrMapFile)
		if err != nil {
			return nil, err
		}
		g.alias = alias
	}
	f, err := os.Open(fastaFile)
	if err != nil {
		return nil, err
	}
	if faiFile != "" {
		idx, err := os.Open(faiFile)
		if err != nil {
			f.Close()
			return nil, err
		}
		defer idx.Close()
		g.fa, err = fasta.NewIndexed(f, idx)
		if err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "index %s", faiFile)
		}
		// f stays open for random access
		g.closers = append(g.closers, f)
		return g, nil
	}
	defer f.Close()
	g.fa, err = fasta.New(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", fastaFile)
	}
	return g, nil
}

// loadChrMap reads a two-column tab-separated alias table, e.g.
// "chr1<TAB>NC_000067.5". Blank lines and #-comments are skipped.
func loadChrMap(filename string) (map[string]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	alias := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Errorf("%s: invalid alias line %q", filename, line)
		}
		alias[fields[0]] = fields[1]
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), filename)
	}
	return alias, nil
}
