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
	"sort"
	"strconv"

	"github.com/james-bowman/nlp"
	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// loadPredictionTable reads a prediction table and returns the rows
// with successful predictions, plus the total row count.
func loadPredictionTable(filename string, stdin io.Reader) ([]PredictionResult, int, error) {
	input, err := openInput(filename, stdin)
	if err != nil {
		return nil, 0, err
	}
	defer input.Close()
	table, err := readCSVTable(bufio.NewReader(input), predictionResultColumns...)
	if err != nil {
		return nil, 0, err
	}
	var out []PredictionResult
	for _, row := range table.rows {
		p, err := predictionResultFromRow(table, row)
		if err != nil {
			return nil, 0, err
		}
		if p.Success {
			out = append(out, p)
		}
	}
	return out, len(table.rows), nil
}

var summaryColumns = []string{
	"metric", "grouping", "stratum", "n",
	"pearson_r", "pearson_p", "spearman_r", "spearman_p",
	"auroc", "threshold", "n_positive", "n_negative",
}

func (s *CorrelationSummary) csvFields() []string {
	return []string{
		s.Metric, s.Grouping, s.Stratum, strconv.Itoa(s.N),
		formatStat(s.PearsonR), formatStat(s.PearsonP),
		formatStat(s.SpearmanR), formatStat(s.SpearmanP),
		formatStat(s.AUROC), formatStat(s.Threshold),
		strconv.Itoa(s.NPositive), strconv.Itoa(s.NNegative),
	}
}

func writeSummaryTable(filename string, rows []CorrelationSummary, extraCols []string, extra func(CorrelationSummary) []string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.Write(append(append([]string(nil), summaryColumns...), extraCols...)); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		fields := row.csvFields()
		if extra != nil {
			fields = append(fields, extra(row)...)
		}
		if err := w.Write(fields); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// metricColumn extracts one prediction metric across rows; failed or
// missing values are NaN and dropped pairwise downstream.
func metricColumn(rows []PredictionResult, metric string) []float64 {
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].Scores[metric]
	}
	return out
}

func activityColumn(rows []PredictionResult) []float64 {
	out := make([]float64, len(rows))
	for i := range rows {
		out[i] = rows[i].Log2Ratio
	}
	return out
}

// benchmarkcmd joins predictions to measurements and writes
// correlation summaries, overall and stratified by motif label,
// strand, and chromosome.
type benchmarkcmd struct {
	inputFilename string
	outputDir     string
	logit         bool
	numpyFilename string
	pcaComponents int
	pcaFilename   string
}

func (cmd *benchmarkcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "-", "prediction table `file`")
	flags.StringVar(&cmd.outputDir, "o", ".", "output `directory`")
	flags.BoolVar(&cmd.logit, "logit", false, "add logistic-regression likelihood-ratio p-values to the overall summary")
	flags.StringVar(&cmd.numpyFilename, "numpy", "", "also write the joined numeric matrix to a .npy `file`")
	flags.IntVar(&cmd.pcaComponents, "pca", 0, "project the prediction metrics onto `N` principal components")
	flags.StringVar(&cmd.pcaFilename, "pca-o", "", "principal-component output .npy `file`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	rows, total, err := loadPredictionTable(cmd.inputFilename, stdin)
	if err != nil {
		return 1
	}
	if total > 0 {
		log.Infof("loaded %d predictions, %d successful (%.1f%%)", total, len(rows),
			100*float64(len(rows))/float64(total))
	}
	if err = os.MkdirAll(cmd.outputDir, 0777); err != nil {
		return 1
	}

	activity := activityColumn(rows)

	var overall []CorrelationSummary
	for _, metric := range predictionColumns {
		overall = append(overall, summarizeCorrelation(metric, "", "", metricColumn(rows, metric), activity))
	}
	var extraCols []string
	var extra func(CorrelationSummary) []string
	if cmd.logit {
		logitP := map[string]float64{}
		for _, metric := range predictionColumns {
			xs, ys := dropUnpaired(metricColumn(rows, metric), activity)
			thresh := median(ys)
			high := make([]bool, len(ys))
			for i, v := range ys {
				high[i] = v > thresh
			}
			logitP[metric] = logitPValue(xs, high)
		}
		extraCols = []string{"logit_p"}
		extra = func(s CorrelationSummary) []string {
			return []string{formatStat(logitP[s.Metric])}
		}
	}
	err = writeSummaryTable(filepath.Join(cmd.outputDir, "benchmark_summary.csv"), overall, extraCols, extra)
	if err != nil {
		return 1
	}
	for _, row := range overall {
		log.Infof("%s: pearson %s (p %s) spearman %s auroc %s n=%d",
			row.Metric, formatStat(row.PearsonR), formatStat(row.PearsonP),
			formatStat(row.SpearmanR), formatStat(row.AUROC), row.N)
	}

	for _, grouping := range []struct {
		name string
		key  func(*PredictionResult) string
	}{
		{"tf_info", func(p *PredictionResult) string { return p.TFInfo }},
		{"strand", func(p *PredictionResult) string { return p.Strand }},
		{"chromosome", func(p *PredictionResult) string { return p.Chromosome }},
	} {
		summaries := stratifiedSummaries(rows, activity, grouping.name, grouping.key)
		filename := filepath.Join(cmd.outputDir, "benchmark_by_"+grouping.name+".csv")
		err = writeSummaryTable(filename, summaries, nil, nil)
		if err != nil {
			return 1
		}
	}

	if cmd.numpyFilename != "" {
		err = writeNumpyMatrix(cmd.numpyFilename, rows, activity)
		if err != nil {
			return 1
		}
	}
	if cmd.pcaComponents > 0 {
		if cmd.pcaFilename == "" {
			err = fmt.Errorf("-pca requires -pca-o")
			return 2
		}
		err = writePCAScores(cmd.pcaFilename, rows, cmd.pcaComponents)
		if err != nil {
			return 1
		}
	}
	return 0
}

// stratifiedSummaries computes one summary per metric per distinct
// value of a grouping column. Strata are emitted in sorted key order;
// a degenerate stratum gets NaN statistics but is never dropped.
func stratifiedSummaries(rows []PredictionResult, activity []float64, grouping string, key func(*PredictionResult) string) []CorrelationSummary {
	byKey := map[string][]int{}
	for i := range rows {
		k := key(&rows[i])
		byKey[k] = append(byKey[k], i)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []CorrelationSummary
	for _, metric := range predictionColumns {
		preds := metricColumn(rows, metric)
		for _, k := range keys {
			idx := byKey[k]
			subPreds := make([]float64, len(idx))
			subActivity := make([]float64, len(idx))
			for i, j := range idx {
				subPreds[i] = preds[j]
				subActivity[i] = activity[j]
			}
			out = append(out, summarizeCorrelation(metric, grouping, k, subPreds, subActivity))
		}
	}
	return out
}

// writeNumpyMatrix exports the joined numeric table (activity followed
// by the prediction metrics) as a float64 .npy array for downstream
// plotting.
func writeNumpyMatrix(filename string, rows []PredictionResult, activity []float64) error {
	cols := 1 + len(predictionColumns)
	out := make([]float64, len(rows)*cols)
	for i := range rows {
		out[i*cols] = activity[i]
		for j, metric := range predictionColumns {
			out[i*cols+1+j] = rows[i].Scores[metric]
		}
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		f.Close()
		return err
	}
	npw.Shape = []int{len(rows), cols}
	if err := npw.WriteFloat64(out); err != nil {
		f.Close()
		return err
	}
	if err := bufw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writePCAScores projects the prediction-metric matrix onto its first
// n principal components and writes the scores as .npy.
func writePCAScores(filename string, rows []PredictionResult, components int) error {
	data := make([]float64, len(rows)*len(predictionColumns))
	for i := range rows {
		for j, metric := range predictionColumns {
			v := rows[i].Scores[metric]
			if math.IsNaN(v) {
				v = 0
			}
			data[i*len(predictionColumns)+j] = v
		}
	}
	mtx := mat.Matrix(mat.NewDense(len(rows), len(predictionColumns), data)).T()
	log.Printf("fitting %d-component pca over %d records", components, len(rows))
	transformer := nlp.NewPCA(components)
	transformer.Fit(mtx)
	mtx, err := transformer.Transform(mtx)
	if err != nil {
		return err
	}
	mtx = mtx.T()

	nr, nc := mtx.Dims()
	out := make([]float64, nr*nc)
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			out[i*nc+j] = mtx.At(i, j)
		}
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	bufw := bufio.NewWriter(f)
	npw, err := gonpy.NewWriter(nopCloser{bufw})
	if err != nil {
		f.Close()
		return err
	}
	npw.Shape = []int{nr, nc}
	if err := npw.WriteFloat64(out); err != nil {
		f.Close()
		return err
	}
	if err := bufw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
