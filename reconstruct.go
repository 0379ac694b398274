// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// windowSize is the fixed sequence length accepted by the remote
// predictor.
const windowSize = 2048

// centerSpan is the width of the central region summarized by the
// "center" prediction statistic.
const centerSpan = 200

// ReconstructedSequence is a VariantRecord's predictor-ready genomic
// window. When Success is false the window is empty and Reason says
// why.
type ReconstructedSequence struct {
	VariantRecord
	Window  string
	Offset  int
	Success bool
	Reason  string
}

var complement = func() (tab [256]byte) {
	for i := range tab {
		tab[i] = 'N'
	}
	tab['A'], tab['T'] = 'T', 'A'
	tab['C'], tab['G'] = 'G', 'C'
	tab['N'] = 'N'
	return
}()

// ReverseComplement returns the reverse complement of a DNA sequence.
// Bases outside ACGTN become N.
func ReverseComplement(seq string) string {
	out := make([]byte, len(seq))
	for i := 0; i < len(seq); i++ {
		out[len(seq)-1-i] = complement[seq[i]]
	}
	return string(out)
}

// LocateVariant returns the position of the variant segment within a
// strand-oriented window. The stored segment is given in forward
// (plus-strand) orientation relative to the genome; a minus-strand
// window has been reverse-complemented, so the segment must be
// reverse-complemented before searching or the lookup fails for every
// minus-strand record.
func LocateVariant(window, variant, strand string) (int, bool) {
	needle := variant
	if strand == "-" {
		needle = ReverseComplement(variant)
	}
	idx := strings.Index(window, needle)
	return idx, idx >= 0
}

// reconstructor builds fixed-length windows around variant loci from a
// reference genome.
type reconstructor struct {
	genome   SequenceSource
	wildtype bool // keep reference bases instead of splicing the mutant segment
}

// Reconstruct builds the 2048-base window for one record. Failures are
// reported in the returned record, never as an error: every record
// proceeds independently.
func (rc *reconstructor) Reconstruct(rec VariantRecord) ReconstructedSequence {
	out := ReconstructedSequence{VariantRecord: rec}
	fail := func(format string, args ...interface{}) ReconstructedSequence {
		out.Window, out.Offset, out.Success = "", 0, false
		out.Reason = fmt.Sprintf(format, args...)
		return out
	}
	span := rec.End - rec.Start
	if span <= 0 {
		return fail("invalid locus span %d", span)
	}
	if len(rec.VariantSeq) != span {
		return fail("variant segment length %d does not match locus span %d", len(rec.VariantSeq), span)
	}
	chromLen, err := rc.genome.Len(rec.Chromosome)
	if err != nil {
		return fail("%s", err)
	}
	if chromLen < windowSize {
		return fail("chromosome %s length %d shorter than window", rec.Chromosome, chromLen)
	}

	// Symmetric flanks around the locus midpoint, shifted (not
	// truncated) at chromosome ends so the window length is always
	// exactly windowSize.
	center := (rec.Start + rec.End) / 2
	wstart := center - windowSize/2
	if wstart < 0 {
		wstart = 0
	}
	if wstart+windowSize > chromLen {
		wstart = chromLen - windowSize
	}
	wend := wstart + windowSize
	if rec.Start < wstart || rec.End > wend {
		return fail("locus %d-%d outside window %d-%d", rec.Start, rec.End, wstart, wend)
	}

	refwin, err := rc.genome.Get(rec.Chromosome, wstart, wend)
	if err != nil {
		return fail("%s", err)
	}

	// The reference is read from the plus strand; a minus-strand
	// enhancer is reported in its own 5'->3' orientation.
	window := refwin
	offset := rec.Start - wstart
	segment := strings.ToUpper(rec.VariantSeq)
	if rec.Strand == "-" {
		window = ReverseComplement(refwin)
		offset = wend - rec.End
		segment = ReverseComplement(segment)
	}

	if !rc.wildtype {
		window = window[:offset] + segment + window[offset+span:]
	}

	if len(window) != windowSize {
		return fail("window length %d after splice", len(window))
	}
	if !rc.wildtype {
		if idx, ok := LocateVariant(window, rec.VariantSeq, rec.Strand); !ok {
			return fail("variant segment not found in window")
		} else if window[offset:offset+span] != segment {
			return fail("variant segment at %d does not match splice offset %d", idx, offset)
		}
	}
	out.Window = window
	out.Offset = offset
	out.Success = true
	return out
}

var windowColumns = append(append([]string(nil), variantColumns...),
	"window", "offset", "success", "reason")

func (r *ReconstructedSequence) csvFields() []string {
	return append(r.VariantRecord.csvFields(),
		r.Window, strconv.Itoa(r.Offset), strconv.FormatBool(r.Success), r.Reason)
}

// reconstructcmd reads the prepared variant table and writes one
// reconstructed window per record.
type reconstructcmd struct {
	refFile        string
	faiFile        string
	chrMapFile     string
	inputFilename  string
	outputFilename string
	wildtype       bool
}

func (cmd *reconstructcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.refFile, "ref", "", "reference genome fasta `file`")
	flags.StringVar(&cmd.faiFile, "fai", "", "fasta index `file` (optional; loads fasta lazily)")
	flags.StringVar(&cmd.chrMapFile, "chr-map", "", "chromosome alias `file` (dataset name TAB fasta name)")
	flags.StringVar(&cmd.inputFilename, "i", "-", "prepared variant table `file`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file`")
	flags.BoolVar(&cmd.wildtype, "wildtype", false, "keep reference bases instead of the mutant segment")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.refFile == "" {
		fmt.Fprintln(stderr, "cannot reconstruct without -ref argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	genome, err := openGenome(cmd.refFile, cmd.faiFile, cmd.chrMapFile)
	if err != nil {
		return 1
	}
	defer genome.Close()

	input, err := openInput(cmd.inputFilename, stdin)
	if err != nil {
		return 1
	}
	table, err := readCSVTable(bufio.NewReader(input), variantColumns...)
	input.Close()
	if err != nil {
		return 1
	}

	var output io.WriteCloser
	if cmd.outputFilename == "-" {
		output = nopCloser{stdout}
	} else {
		output, err = os.OpenFile(cmd.outputFilename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return 1
		}
	}
	bufw := bufio.NewWriter(output)
	w := csv.NewWriter(bufw)
	err = w.Write(windowColumns)
	if err != nil {
		return 1
	}

	rc := &reconstructor{genome: genome, wildtype: cmd.wildtype}
	ok := 0
	for _, row := range table.rows {
		var rec VariantRecord
		rec, err = table.variantRecord(row)
		if err != nil {
			return 1
		}
		rs := rc.Reconstruct(rec)
		if rs.Success {
			ok++
		} else {
			log.Warnf("%s: %s", rec.VariantID, rs.Reason)
		}
		err = w.Write(rs.csvFields())
		if err != nil {
			return 1
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return 1
	}
	if err = bufw.Flush(); err != nil {
		return 1
	}
	if err = output.Close(); err != nil {
		return 1
	}
	log.Infof("reconstructed %d/%d windows (%.1f%%)", ok, len(table.rows),
		100*float64(ok)/float64(max(len(table.rows), 1)))
	return 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
