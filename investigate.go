package mprabench

import (
	"flag"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// centerMetrics are the focus columns of the motif deep dive, one per
// assay.
var centerMetrics = []string{"dnase_center", "rna_center", "cage_center"}

func motifMatch(tfinfo, motif string) bool {
	return strings.Contains(strings.ToLower(tfinfo), strings.ToLower(motif))
}

// splitByMotif partitions rows into those whose motif label contains
// the given name and the rest.
func splitByMotif(rows []PredictionResult, motif string) (match, rest []PredictionResult) {
	for _, p := range rows {
		if motifMatch(p.TFInfo, motif) {
			match = append(match, p)
		} else {
			rest = append(rest, p)
		}
	}
	return
}

type quartileRow struct {
	Bucket       string
	N            int
	ActivityMin  float64
	ActivityMax  float64
	ActivityMean float64
	Means        map[string]float64
}

// activityQuartiles partitions rows into 4 equal-frequency buckets by
// measured activity and reports the mean of each center metric per
// bucket.
func activityQuartiles(rows []PredictionResult) []quartileRow {
	activity := activityColumn(rows)
	buckets := quantileBuckets(activity, 4)
	labels := []string{"Q1_low", "Q2", "Q3", "Q4_high"}
	out := make([]quartileRow, 0, len(buckets))
	for b, idx := range buckets {
		row := quartileRow{Bucket: labels[b], N: len(idx), Means: map[string]float64{}}
		var act []float64
		for _, j := range idx {
			act = append(act, activity[j])
		}
		if len(act) > 0 {
			sort.Float64s(act)
			row.ActivityMin = act[0]
			row.ActivityMax = act[len(act)-1]
			row.ActivityMean = stat.Mean(act, nil)
		}
		for _, metric := range centerMetrics {
			var vals []float64
			for _, j := range idx {
				v := rows[j].Scores[metric]
				if !isNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) > 0 {
				row.Means[metric] = stat.Mean(vals, nil)
			} else {
				row.Means[metric] = math.NaN()
			}
		}
		out = append(out, row)
	}
	return out
}

func isNaN(v float64) bool { return math.IsNaN(v) }

// investigatecmd is a one-off deep dive into a single motif stratum:
// how its predictions and measurements differ from the rest of the
// dataset, whether a co-occurring motif changes the picture, and
// whether particular chromosomes or activity quartiles drive its
// correlation.
type investigatecmd struct {
	inputFilename string
	motif         string
	coFlag        string
	focusMetric   string
}

func (cmd *investigatecmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "-", "prediction table `file`")
	flags.StringVar(&cmd.motif, "motif", "", "motif `label` to investigate (required, substring match)")
	flags.StringVar(&cmd.coFlag, "co-flag", "", "secondary motif `label` for the co-occurrence split")
	flags.StringVar(&cmd.focusMetric, "metric", "dnase_center", "focus prediction `metric`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.motif == "" {
		fmt.Fprintln(stderr, "cannot investigate without -motif argument")
		return 2
	}
	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	rows, _, err := loadPredictionTable(cmd.inputFilename, stdin)
	if err != nil {
		return 1
	}
	match, rest := splitByMotif(rows, cmd.motif)
	if len(match) == 0 {
		err = fmt.Errorf("no records match motif %q", cmd.motif)
		return 1
	}
	fmt.Fprintf(stdout, "motif %q: %d records (%d others)\n\n", cmd.motif, len(match), len(rest))

	fmt.Fprintf(stdout, "prediction distributions (motif vs rest, Welch t-test):\n")
	for _, metric := range centerMetrics {
		a, _ := dropUnpaired(metricColumn(match, metric), activityColumn(match))
		b, _ := dropUnpaired(metricColumn(rest, metric), activityColumn(rest))
		cmd.printComparison(stdout, metric, a, b)
	}

	fmt.Fprintf(stdout, "\nmeasured activity (motif vs rest, Welch t-test):\n")
	cmd.printComparison(stdout, "log2_ratio", activityColumn(match), activityColumn(rest))

	if cmd.coFlag != "" {
		with, without := splitByMotif(match, cmd.coFlag)
		fmt.Fprintf(stdout, "\nco-occurrence split on %q:\n", cmd.coFlag)
		for _, group := range []struct {
			label string
			rows  []PredictionResult
		}{
			{"with " + cmd.coFlag, with},
			{"without " + cmd.coFlag, without},
		} {
			if len(group.rows) == 0 {
				fmt.Fprintf(stdout, "  %-16s n=0\n", group.label)
				continue
			}
			activity := activityColumn(group.rows)
			r, p := pearson(dropUnpaired(activity, metricColumn(group.rows, cmd.focusMetric)))
			fmt.Fprintf(stdout, "  %-16s n=%-5d activity mean %8.4f  %s r=%s p=%s\n",
				group.label, len(group.rows), stat.Mean(activity, nil),
				cmd.focusMetric, formatStat(r), formatStat(p))
		}
		t, df, p := welchTTest(metricColumn(with, cmd.focusMetric), metricColumn(without, cmd.focusMetric))
		fmt.Fprintf(stdout, "  %s with-vs-without: t=%s df=%s p=%s\n",
			cmd.focusMetric, formatStat(t), formatStat(df), formatStat(p))
	}

	fmt.Fprintf(stdout, "\ncorrelations by chromosome (n >= 5):\n")
	chromRows := stratifiedSummaries(match, activityColumn(match), "chromosome",
		func(p *PredictionResult) string { return p.Chromosome })
	sort.SliceStable(chromRows, func(i, j int) bool {
		return lessNaNLast(chromRows[i].PearsonR, chromRows[j].PearsonR)
	})
	for _, row := range chromRows {
		if row.Metric != cmd.focusMetric || row.N < 5 {
			continue
		}
		fmt.Fprintf(stdout, "  %-8s n=%-5d pearson r=%s p=%s\n",
			row.Stratum, row.N, formatStat(row.PearsonR), formatStat(row.PearsonP))
	}

	fmt.Fprintf(stdout, "\npredictions by activity quartile:\n")
	quartiles := activityQuartiles(match)
	for _, q := range quartiles {
		fmt.Fprintf(stdout, "  %-8s n=%-5d activity [%8.4f, %8.4f]", q.Bucket, q.N, q.ActivityMin, q.ActivityMax)
		for _, metric := range centerMetrics {
			fmt.Fprintf(stdout, "  %s %s", metric, formatStat(q.Means[metric]))
		}
		fmt.Fprintln(stdout)
	}
	if len(quartiles) == 4 {
		q1 := quartiles[0].Means[cmd.focusMetric]
		q4 := quartiles[3].Means[cmd.focusMetric]
		fmt.Fprintf(stdout, "\n%s Q4-Q1 difference: %s", cmd.focusMetric, formatStat(q4-q1))
		if q4 < q1 {
			fmt.Fprintf(stdout, " (higher activity, lower prediction)")
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

func (cmd *investigatecmd) printComparison(stdout io.Writer, label string, a, b []float64) {
	ma, sa := stat.MeanStdDev(a, nil)
	mb, sb := stat.MeanStdDev(b, nil)
	t, _, p := welchTTest(a, b)
	fmt.Fprintf(stdout, "  %-14s motif mean %s std %s | rest mean %s std %s | t=%s p=%s\n",
		label, formatStat(ma), formatStat(sa), formatStat(mb), formatStat(sb),
		formatStat(t), formatStat(p))
}

func lessNaNLast(a, b float64) bool {
	switch {
	case isNaN(a):
		return false
	case isNaN(b):
		return true
	default:
		return a < b
	}
}
