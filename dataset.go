// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// VariantRecord is one synthetic enhancer variant from the MPRA
// dataset: a genomic anchor, the short mutant segment embedded at that
// anchor, and the measured reporter activity aggregated over barcode
// replicates.
type VariantRecord struct {
	VariantID  string
	Chromosome string
	Start      int // 0-based
	End        int // half-open
	Strand     string
	VariantSeq string
	TFInfo     string // motif label(s), or "wt" for unmodified
	Pool       string
	NVariants  int
	RNACount   int64
	DNACount   int64
	Log2Ratio  float64
}

func (v *VariantRecord) locusKey() string {
	return fmt.Sprintf("%s:%d-%d:%s:%s", v.Chromosome, v.Start, v.End, v.Strand, v.VariantSeq)
}

// rawMeasurement is one barcode-level row of a pool count table.
type rawMeasurement struct {
	VariantRecord
	rna     int64
	plasmid int64
}

// parseSequenceName extracts the genomic coordinates, the embedded
// segment, and the motif label from a sequence name of the form
// {prefix}_{id}_chr{c}_{start}_{end}_{strand}_{seq}_{modifications}.
func parseSequenceName(name string) (VariantRecord, error) {
	parts := strings.Split(name, "_")
	chridx := -1
	for i, p := range parts {
		if strings.HasPrefix(p, "chr") {
			chridx = i
			break
		}
	}
	if chridx < 0 || chridx+3 >= len(parts) {
		return VariantRecord{}, fmt.Errorf("cannot parse sequence name %q", name)
	}
	start, err := strconv.Atoi(parts[chridx+1])
	if err != nil {
		return VariantRecord{}, fmt.Errorf("bad start in sequence name %q: %w", name, err)
	}
	end, err := strconv.Atoi(parts[chridx+2])
	if err != nil {
		return VariantRecord{}, fmt.Errorf("bad end in sequence name %q: %w", name, err)
	}
	strand := parts[chridx+3]
	if strand != "+" && strand != "-" {
		return VariantRecord{}, fmt.Errorf("bad strand %q in sequence name %q", strand, name)
	}
	rec := VariantRecord{
		Chromosome: parts[chridx],
		Start:      start,
		End:        end,
		Strand:     strand,
	}
	if chridx+4 < len(parts) {
		rec.VariantSeq = strings.ToUpper(parts[chridx+4])
	}
	if chridx+5 < len(parts) {
		rec.TFInfo = strings.Join(parts[chridx+5:], "_")
	} else {
		rec.TFInfo = "wt"
	}
	return rec, nil
}

// loadPoolTable reads a tab-separated MPRA count table with (at least)
// the columns "name", "counts.plasmid", and "counts.rna".
func loadPoolTable(rdr io.Reader, pool string) ([]rawMeasurement, error) {
	tsv := csv.NewReader(rdr)
	tsv.Comma = '\t'
	header, err := tsv.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}
	for _, need := range []string{"name", "counts.plasmid", "counts.rna"} {
		if _, ok := col[need]; !ok {
			return nil, fmt.Errorf("pool table has no %q column (header %v)", need, header)
		}
	}
	var out []rawMeasurement
	line := 1
	for {
		row, err := tsv.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		line++
		rec, err := parseSequenceName(row[col["name"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		plasmid, err := strconv.ParseInt(row[col["counts.plasmid"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad plasmid count: %w", line, err)
		}
		rna, err := strconv.ParseInt(row[col["counts.rna"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad rna count: %w", line, err)
		}
		rec.Pool = pool
		out = append(out, rawMeasurement{VariantRecord: rec, rna: rna, plasmid: plasmid})
	}
	return out, nil
}

// pseudocount added to both counts before taking the log ratio, so
// zero-count barcodes stay finite.
const pseudocount = 1

func log2Ratio(rna, plasmid int64) float64 {
	return math.Log2(float64(rna+pseudocount) / float64(plasmid+pseudocount))
}

// aggregateMeasurements collapses barcode replicates into one
// VariantRecord per (locus, strand, segment), averaging the per-barcode
// log ratios and summing raw counts.
func aggregateMeasurements(raws []rawMeasurement) []VariantRecord {
	type group struct {
		rec   VariantRecord
		ratio []float64
	}
	byKey := map[string]*group{}
	var order []string
	for _, m := range raws {
		key := m.locusKey()
		g, ok := byKey[key]
		if !ok {
			g = &group{rec: m.VariantRecord}
			byKey[key] = g
			order = append(order, key)
		}
		g.rec.RNACount += m.rna
		g.rec.DNACount += m.plasmid
		g.ratio = append(g.ratio, log2Ratio(m.rna, m.plasmid))
	}
	out := make([]VariantRecord, 0, len(byKey))
	for _, key := range order {
		g := byKey[key]
		sum := 0.0
		for _, r := range g.ratio {
			sum += r
		}
		g.rec.NVariants = len(g.ratio)
		g.rec.Log2Ratio = sum / float64(len(g.ratio))
		g.rec.VariantID = key
		out = append(out, g.rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out
}

var variantColumns = []string{
	"variant_id", "chromosome", "start", "end", "strand",
	"variant_seq", "tf_info", "pool", "n_variants",
	"rna_count", "dna_count", "log2_ratio",
}

func (v *VariantRecord) csvFields() []string {
	return []string{
		v.VariantID, v.Chromosome,
		strconv.Itoa(v.Start), strconv.Itoa(v.End), v.Strand,
		v.VariantSeq, v.TFInfo, v.Pool,
		strconv.Itoa(v.NVariants),
		strconv.FormatInt(v.RNACount, 10),
		strconv.FormatInt(v.DNACount, 10),
		formatStat(v.Log2Ratio),
	}
}

// csvTable is a fully loaded CSV file with header-based column lookup,
// tolerant of extra columns so each pipeline stage can carry its
// input's columns forward.
type csvTable struct {
	col  map[string]int
	rows [][]string
}

func readCSVTable(rdr io.Reader, need ...string) (*csvTable, error) {
	r := csv.NewReader(rdr)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := &csvTable{col: map[string]int{}}
	for i, name := range header {
		t.col[name] = i
	}
	for _, name := range need {
		if _, ok := t.col[name]; !ok {
			return nil, fmt.Errorf("input has no %q column", name)
		}
	}
	t.rows, err = r.ReadAll()
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *csvTable) get(row []string, name string) string {
	idx, ok := t.col[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func (t *csvTable) getFloat(row []string, name string) float64 {
	return parseStat(t.get(row, name))
}

func (t *csvTable) variantRecord(row []string) (VariantRecord, error) {
	start, err := strconv.Atoi(t.get(row, "start"))
	if err != nil {
		return VariantRecord{}, fmt.Errorf("bad start %q: %w", t.get(row, "start"), err)
	}
	end, err := strconv.Atoi(t.get(row, "end"))
	if err != nil {
		return VariantRecord{}, fmt.Errorf("bad end %q: %w", t.get(row, "end"), err)
	}
	nvar, _ := strconv.Atoi(t.get(row, "n_variants"))
	rna, _ := strconv.ParseInt(t.get(row, "rna_count"), 10, 64)
	dna, _ := strconv.ParseInt(t.get(row, "dna_count"), 10, 64)
	return VariantRecord{
		VariantID:  t.get(row, "variant_id"),
		Chromosome: t.get(row, "chromosome"),
		Start:      start,
		End:        end,
		Strand:     t.get(row, "strand"),
		VariantSeq: t.get(row, "variant_seq"),
		TFInfo:     t.get(row, "tf_info"),
		Pool:       t.get(row, "pool"),
		NVariants:  nvar,
		RNACount:   rna,
		DNACount:   dna,
		Log2Ratio:  t.getFloat(row, "log2_ratio"),
	}, nil
}

// formatStat renders a float for CSV output; undefined values are
// written as "NA", never as 0 or a bare NaN.
func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseStat(s string) float64 {
	if s == "" || s == "NA" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// openInput opens a possibly gzip-compressed input file, or stdin for
// "-".
func openInput(filename string, stdin io.Reader) (io.ReadCloser, error) {
	var rdr io.ReadCloser
	if filename == "-" {
		rdr = io.NopCloser(stdin)
	} else {
		f, err := os.Open(filename)
		if err != nil {
			return nil, err
		}
		rdr = f
	}
	if strings.HasSuffix(filename, ".gz") {
		gz, err := pgzip.NewReader(rdr)
		if err != nil {
			rdr.Close()
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		return gzReadCloser{gz, rdr}, nil
	}
	return rdr, nil
}

type gzReadCloser struct {
	*pgzip.Reader
	raw io.Closer
}

func (g gzReadCloser) Close() error {
	err := g.Reader.Close()
	if err2 := g.raw.Close(); err == nil {
		err = err2
	}
	return err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
