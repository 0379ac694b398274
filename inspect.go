package mprabench

import (
	"flag"
	"fmt"
	"io"
	"math"
	"sort"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// inspectcmd prints a quick look at a prediction table: activity
// distribution, the most and least active variants, and correlations
// for both raw and negated prediction scores. The negated scores are
// a sanity check only; a strong negative correlation usually means a
// sign convention mismatch somewhere upstream.
type inspectcmd struct {
	inputFilename string
	topN          int
}

func (cmd *inspectcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "-", "prediction table `file`")
	flags.IntVar(&cmd.topN, "n", 5, "`number` of variants to list at each extreme")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	}

	rows, total, err := loadPredictionTable(cmd.inputFilename, stdin)
	if err != nil {
		return 1
	}
	if len(rows) == 0 {
		err = fmt.Errorf("%s: no successful predictions", cmd.inputFilename)
		return 1
	}
	log.Infof("loaded %d successful predictions of %d rows", len(rows), total)

	activity := make([]float64, len(rows))
	for i, r := range rows {
		activity[i] = r.Log2Ratio
	}
	mean, std := stat.MeanStdDev(activity, nil)
	sorted := append([]float64(nil), activity...)
	sort.Float64s(sorted)
	fmt.Fprintf(stdout, "activity: n=%d mean=%s std=%s min=%s median=%s max=%s\n",
		len(activity), formatStat(mean), formatStat(std),
		formatStat(sorted[0]), formatStat(median(sorted)), formatStat(sorted[len(sorted)-1]))

	byActivity := append([]PredictionResult(nil), rows...)
	sort.Slice(byActivity, func(i, j int) bool {
		return byActivity[i].Log2Ratio > byActivity[j].Log2Ratio
	})
	n := cmd.topN
	if n > len(byActivity) {
		n = len(byActivity)
	}
	fmt.Fprintf(stdout, "\ntop %d by activity:\n", n)
	for _, r := range byActivity[:n] {
		cmd.printVariant(stdout, r)
	}
	fmt.Fprintf(stdout, "\nbottom %d by activity:\n", n)
	for _, r := range byActivity[len(byActivity)-n:] {
		cmd.printVariant(stdout, r)
	}

	fmt.Fprintf(stdout, "\ncorrelations with activity:\n")
	for _, metric := range predictionColumns {
		preds := make([]float64, len(rows))
		for i, r := range rows {
			preds[i] = r.Scores[metric]
		}
		row := summarizeCorrelation(metric, "", "", preds, activity)
		fmt.Fprintf(stdout, "%-16s n=%-5d pearson_r=%-10s p=%-10s spearman_r=%s\n",
			metric, row.N, formatStat(row.PearsonR), formatStat(row.PearsonP), formatStat(row.SpearmanR))
	}
	fmt.Fprintf(stdout, "\ncorrelations with activity, negated scores (sign check only):\n")
	for _, metric := range predictionColumns {
		preds := make([]float64, len(rows))
		for i, r := range rows {
			preds[i] = -r.Scores[metric]
		}
		row := summarizeCorrelation(metric+"_inverted", "", "", preds, activity)
		fmt.Fprintf(stdout, "%-25s n=%-5d pearson_r=%-10s p=%s\n",
			metric+"_inverted", row.N, formatStat(row.PearsonR), formatStat(row.PearsonP))
		if !math.IsNaN(row.PearsonR) && row.PearsonR > 0.3 {
			log.Warnf("%s correlates positively when negated (r=%s): check the score sign convention", metric, formatStat(row.PearsonR))
		}
	}
	return 0
}

func (cmd *inspectcmd) printVariant(stdout io.Writer, r PredictionResult) {
	fmt.Fprintf(stdout, "%-28s %s:%d-%d:%s activity=%s dnase_center=%s\n",
		r.VariantID, r.Chromosome, r.Start, r.End, r.Strand,
		formatStat(r.Log2Ratio), formatStat(r.Scores["dnase_center"]))
}
