package mprabench

import (
	"bufio"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"

	"mprabench/seqdiff"
)

// wildtypecmd compares mutant predictions against predictions for the
// same loci with the reference (wild-type) bases restored. The
// wild-type prediction table comes from re-running reconstruct
// -wildtype and predict over the same prepared variant table.
type wildtypecmd struct {
	mutantFilename    string
	wildtypeFilename  string
	mutantWindowsFile string
	wtWindowsFile     string
	outputDir         string
}

// deltaMetrics are the per-record mutation-effect columns (mutant
// minus wild-type).
var deltaMetrics = centerMetrics

func (cmd *wildtypecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.mutantFilename, "mutant", "", "mutant prediction table `file` (required)")
	flags.StringVar(&cmd.wildtypeFilename, "wt", "", "wild-type prediction table `file` (required)")
	flags.StringVar(&cmd.mutantWindowsFile, "mutant-windows", "", "mutant window table `file` (optional, enables sequence verification)")
	flags.StringVar(&cmd.wtWindowsFile, "wt-windows", "", "wild-type window table `file` (optional, enables sequence verification)")
	flags.StringVar(&cmd.outputDir, "o", ".", "output `directory`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.mutantFilename == "" || cmd.wildtypeFilename == "" {
		fmt.Fprintln(stderr, "cannot compare without -mutant and -wt arguments")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	mutant, _, err := loadPredictionTable(cmd.mutantFilename, stdin)
	if err != nil {
		return 1
	}
	wildtype, _, err := loadPredictionTable(cmd.wildtypeFilename, stdin)
	if err != nil {
		return 1
	}
	wtByID := make(map[string]PredictionResult, len(wildtype))
	for _, p := range wildtype {
		wtByID[p.VariantID] = p
	}

	type pair struct {
		mut PredictionResult
		wt  PredictionResult
	}
	var pairs []pair
	for _, m := range mutant {
		if w, ok := wtByID[m.VariantID]; ok {
			pairs = append(pairs, pair{m, w})
		}
	}
	log.Infof("joined %d variants with both mutant and wild-type predictions", len(pairs))
	if len(pairs) == 0 {
		err = fmt.Errorf("no overlapping variant ids between %s and %s", cmd.mutantFilename, cmd.wildtypeFilename)
		return 1
	}

	if cmd.mutantWindowsFile != "" && cmd.wtWindowsFile != "" {
		err = cmd.verifyWindows(stdin)
		if err != nil {
			return 1
		}
	}

	if err = os.MkdirAll(cmd.outputDir, 0777); err != nil {
		return 1
	}

	// Per-record comparison table with mutation effects.
	header := append([]string(nil), variantColumns...)
	header = append(header, predictionColumns...)
	for _, col := range predictionColumns {
		header = append(header, "wt_"+col)
	}
	for _, metric := range deltaMetrics {
		header = append(header, "delta_"+metric)
	}
	f, err := os.OpenFile(filepath.Join(cmd.outputDir, "comparison.csv"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return 1
	}
	w := csv.NewWriter(f)
	err = w.Write(header)
	if err != nil {
		return 1
	}
	for _, pr := range pairs {
		fields := pr.mut.VariantRecord.csvFields()
		for _, col := range predictionColumns {
			fields = append(fields, formatStat(pr.mut.Scores[col]))
		}
		for _, col := range predictionColumns {
			fields = append(fields, formatStat(pr.wt.Scores[col]))
		}
		for _, metric := range deltaMetrics {
			fields = append(fields, formatStat(pr.mut.Scores[metric]-pr.wt.Scores[metric]))
		}
		err = w.Write(fields)
		if err != nil {
			return 1
		}
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return 1
	}
	if err = f.Close(); err != nil {
		return 1
	}

	// Per-metric correlation comparison.
	cf, err := os.OpenFile(filepath.Join(cmd.outputDir, "correlation_comparison_summary.csv"), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return 1
	}
	cw := csv.NewWriter(cf)
	err = cw.Write([]string{
		"metric", "n",
		"mutant_pearson_r", "mutant_pearson_p", "mutant_spearman_r",
		"wt_pearson_r", "wt_pearson_p", "wt_spearman_r",
		"delta_pearson_r", "improvement",
	})
	if err != nil {
		return 1
	}
	for _, metric := range deltaMetrics {
		activity := make([]float64, len(pairs))
		mutCol := make([]float64, len(pairs))
		wtCol := make([]float64, len(pairs))
		for i, pr := range pairs {
			activity[i] = pr.mut.Log2Ratio
			mutCol[i] = pr.mut.Scores[metric]
			wtCol[i] = pr.wt.Scores[metric]
		}
		mutRow := summarizeCorrelation(metric, "", "", mutCol, activity)
		wtRow := summarizeCorrelation(metric, "", "", wtCol, activity)
		delta := wtRow.PearsonR - mutRow.PearsonR
		improvement := "no"
		if !math.IsNaN(delta) && wtRow.PearsonR > mutRow.PearsonR {
			improvement = "yes"
		}
		err = cw.Write([]string{
			metric, strconv.Itoa(mutRow.N),
			formatStat(mutRow.PearsonR), formatStat(mutRow.PearsonP), formatStat(mutRow.SpearmanR),
			formatStat(wtRow.PearsonR), formatStat(wtRow.PearsonP), formatStat(wtRow.SpearmanR),
			formatStat(delta), improvement,
		})
		if err != nil {
			return 1
		}
		log.Infof("%s: mutant r=%s wt r=%s delta=%s", metric,
			formatStat(mutRow.PearsonR), formatStat(wtRow.PearsonR), formatStat(delta))
	}
	cw.Flush()
	if err = cw.Error(); err != nil {
		return 1
	}
	if err = cf.Close(); err != nil {
		return 1
	}
	return 0
}

// verifyWindows checks that each mutant window differs from its
// wild-type counterpart in at most one contiguous same-length segment.
// Disagreements are reported, not fatal: they indicate a reconstruction
// bug, and the comparison is still informative for the clean records.
func (cmd *wildtypecmd) verifyWindows(stdin io.Reader) error {
	mutWin, err := loadWindowMap(cmd.mutantWindowsFile, stdin)
	if err != nil {
		return err
	}
	wtWin, err := loadWindowMap(cmd.wtWindowsFile, stdin)
	if err != nil {
		return err
	}
	checked, bad := 0, 0
	for id, mw := range mutWin {
		ww, ok := wtWin[id]
		if !ok {
			continue
		}
		checked++
		if mw == ww {
			continue
		}
		if _, ok := seqdiff.Single(mw, ww); !ok {
			bad++
			log.Warnf("%s: mutant and wild-type windows differ in more than one segment", id)
		}
	}
	log.Infof("verified %d window pairs, %d with unexpected differences", checked, bad)
	return nil
}

func loadWindowMap(filename string, stdin io.Reader) (map[string]string, error) {
	input, err := openInput(filename, stdin)
	if err != nil {
		return nil, err
	}
	defer input.Close()
	table, err := readCSVTable(bufio.NewReader(input), "variant_id", "window", "success")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	out := map[string]string{}
	for _, row := range table.rows {
		if table.get(row, "success") == "true" {
			out[table.get(row, "variant_id")] = table.get(row, "window")
		}
	}
	return out, nil
}
