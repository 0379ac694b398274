package mprabench

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat"
)

// preparecmd merges one or more pool count tables into the prepared
// variant table: one row per unique (locus, strand, segment) with
// aggregated counts and mean log2(RNA/DNA) activity.
type preparecmd struct {
	outputFilename string
	sampleSize     int
	sampleFilename string
	seed           uint64
}

func (cmd *preparecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file`")
	flags.IntVar(&cmd.sampleSize, "sample", 0, "also write a random subset of `N` records")
	flags.StringVar(&cmd.sampleFilename, "sample-o", "", "subset output `file`")
	flags.Uint64Var(&cmd.seed, "seed", 42, "random `seed` for -sample")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() == 0 {
		fmt.Fprintln(stderr, "cannot prepare without at least one pool count table argument")
		return 2
	}

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	var raws []rawMeasurement
	for _, infile := range flags.Args() {
		pool := poolLabel(infile)
		var input io.ReadCloser
		input, err = openInput(infile, stdin)
		if err != nil {
			return 1
		}
		var rows []rawMeasurement
		rows, err = loadPoolTable(bufio.NewReader(input), pool)
		input.Close()
		if err != nil {
			err = fmt.Errorf("%s: %w", infile, err)
			return 1
		}
		log.Infof("%s: loaded %d measurements", infile, len(rows))
		raws = append(raws, rows...)
	}

	recs := aggregateMeasurements(raws)
	log.Infof("aggregated %d measurements into %d unique variants", len(raws), len(recs))

	ratios := make([]float64, len(recs))
	for i, rec := range recs {
		ratios[i] = rec.Log2Ratio
	}
	if len(ratios) > 1 {
		mean, std := stat.MeanStdDev(ratios, nil)
		sorted := append([]float64(nil), ratios...)
		sort.Float64s(sorted)
		log.Infof("log2 ratio: mean %.4f std %.4f min %.4f max %.4f",
			mean, std, sorted[0], sorted[len(sorted)-1])
	}

	err = cmd.writeTable(recs, cmd.outputFilename, stdout)
	if err != nil {
		return 1
	}

	if cmd.sampleSize > 0 {
		if cmd.sampleFilename == "" {
			err = fmt.Errorf("-sample requires -sample-o")
			return 2
		}
		sample := sampleRecords(recs, cmd.sampleSize, cmd.seed)
		err = cmd.writeTable(sample, cmd.sampleFilename, stdout)
		if err != nil {
			return 1
		}
		log.Infof("wrote %d-record subset to %s", len(sample), cmd.sampleFilename)
	}
	return 0
}

func (cmd *preparecmd) writeTable(recs []VariantRecord, filename string, stdout io.Writer) error {
	var output io.WriteCloser
	if filename == "-" {
		output = nopCloser{stdout}
	} else {
		f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
		if err != nil {
			return err
		}
		output = f
	}
	bufw := bufio.NewWriter(output)
	w := csv.NewWriter(bufw)
	if err := w.Write(variantColumns); err != nil {
		return err
	}
	for i := range recs {
		if err := w.Write(recs[i].csvFields()); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := bufw.Flush(); err != nil {
		return err
	}
	return output.Close()
}

// sampleRecords returns a deterministic random subset, for quick test
// runs against the remote predictor.
func sampleRecords(recs []VariantRecord, n int, seed uint64) []VariantRecord {
	if n >= len(recs) {
		return recs
	}
	rnd := rand.New(rand.NewSource(seed))
	perm := rnd.Perm(len(recs))[:n]
	sort.Ints(perm)
	out := make([]VariantRecord, n)
	for i, idx := range perm {
		out[i] = recs[idx]
	}
	return out
}

func poolLabel(filename string) string {
	base := filepath.Base(filename)
	for _, suffix := range []string{".gz", ".txt", ".tsv"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return base
}
