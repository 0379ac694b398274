package mprabench

import (
	"bufio"
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// PredictionResult is the outcome of one prediction call: the summary
// scalars for each (assay, statistic) pair, or a captured error.
type PredictionResult struct {
	VariantRecord
	Scores  map[string]float64
	Success bool
	Err     string
}

var predictionResultColumns = func() []string {
	cols := append([]string(nil), variantColumns...)
	cols = append(cols, predictionColumns...)
	return append(cols, "success", "error")
}()

func (p *PredictionResult) csvFields() []string {
	fields := p.VariantRecord.csvFields()
	for _, col := range predictionColumns {
		fields = append(fields, formatStat(p.Scores[col]))
	}
	return append(fields, strconv.FormatBool(p.Success), p.Err)
}

func predictionResultFromRow(t *csvTable, row []string) (PredictionResult, error) {
	rec, err := t.variantRecord(row)
	if err != nil {
		return PredictionResult{}, err
	}
	p := PredictionResult{
		VariantRecord: rec,
		Scores:        make(map[string]float64, len(predictionColumns)),
		Success:       t.get(row, "success") == "true",
		Err:           t.get(row, "error"),
	}
	for _, col := range predictionColumns {
		p.Scores[col] = t.getFloat(row, col)
	}
	return p, nil
}

// batchPredictor runs the remote predictor over reconstructed windows
// in strict input order, flushing a numbered checkpoint file every
// Interval records. A restarted run scans the checkpoint directory and
// resumes from the first unprocessed record.
type batchPredictor struct {
	Predictor     Predictor
	CheckpointDir string
	Interval      int
	Threads       int
}

const checkpointPrefix = "checkpoint_"

func (bp *batchPredictor) interval() int {
	if bp.Interval > 0 {
		return bp.Interval
	}
	return 100
}

// loadCheckpoints returns previously checkpointed results in checkpoint
// order. The total row count is the resume point. Every checkpoint
// except the last must hold exactly one full batch; anything else means
// a damaged checkpoint directory, and resuming from it would silently
// misalign rows with input records.
func (bp *batchPredictor) loadCheckpoints() ([]PredictionResult, error) {
	entries, err := os.ReadDir(bp.CheckpointDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		name := ent.Name()
		if !ent.IsDir() && len(name) > len(checkpointPrefix) && name[:len(checkpointPrefix)] == checkpointPrefix && filepath.Ext(name) == ".csv" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var prior []PredictionResult
	for i, name := range names {
		f, err := os.Open(filepath.Join(bp.CheckpointDir, name))
		if err != nil {
			return nil, err
		}
		table, err := readCSVTable(bufio.NewReader(f), predictionResultColumns...)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if len(table.rows) > bp.interval() {
			return nil, fmt.Errorf("%s: checkpoint has %d rows, expected at most %d", name, len(table.rows), bp.interval())
		}
		if len(table.rows) < bp.interval() && i < len(names)-1 {
			return nil, fmt.Errorf("%s: incomplete checkpoint (%d rows, expected %d): remove the checkpoint directory to restart", name, len(table.rows), bp.interval())
		}
		for _, row := range table.rows {
			p, err := predictionResultFromRow(table, row)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			prior = append(prior, p)
		}
	}
	return prior, nil
}

// writeCheckpoint writes one batch to a temp file, syncs, and renames
// it into place, so a crash can never leave a torn checkpoint behind.
func (bp *batchPredictor) writeCheckpoint(index int, results []PredictionResult) error {
	filename := filepath.Join(bp.CheckpointDir, fmt.Sprintf("%s%04d.csv", checkpointPrefix, index))
	tmpname := filename + ".tmp"
	f, err := os.OpenFile(tmpname, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	defer os.Remove(tmpname)
	w := csv.NewWriter(f)
	if err := w.Write(predictionResultColumns); err != nil {
		f.Close()
		return err
	}
	for i := range results {
		if err := w.Write(results[i].csvFields()); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpname, filename)
}

// Run processes entries in order and returns the complete merged
// result table (checkpointed + newly computed rows).
func (bp *batchPredictor) Run(ctx context.Context, entries []ReconstructedSequence) ([]PredictionResult, error) {
	interval := bp.interval()
	prior, err := bp.loadCheckpoints()
	if err != nil {
		return nil, err
	}
	if len(prior) > len(entries) {
		return nil, fmt.Errorf("checkpoint directory has %d results but input has only %d records", len(prior), len(entries))
	}
	// A partial final checkpoint is legitimate only when the prior run
	// finished; an interrupted run checkpoints whole batches.
	if len(prior) < len(entries) && len(prior)%interval != 0 {
		return nil, fmt.Errorf("checkpoint directory holds %d results, not a whole number of %d-record batches: remove the checkpoint directory to restart", len(prior), interval)
	}
	if len(prior) > 0 {
		log.Infof("resuming after %d checkpointed records", len(prior))
	}

	// Identical windows get one remote call. Seed the digest cache
	// from checkpointed results so a resumed run benefits too.
	cache := map[[32]byte]PredictionResult{}
	for i, p := range prior {
		if p.Success && entries[i].Window != "" {
			cache[blake2b.Sum256([]byte(entries[i].Window))] = p
		}
	}

	results := prior
	nextCheckpoint := len(prior)/interval + 1
	start := time.Now()
	for done := len(prior); done < len(entries); {
		batch := entries[done:]
		if len(batch) > interval {
			batch = batch[:interval]
		}
		batchResults, err := bp.runBatch(ctx, batch, cache)
		if err != nil {
			return nil, err
		}
		results = append(results, batchResults...)
		if err := bp.writeCheckpoint(nextCheckpoint, batchResults); err != nil {
			return nil, fmt.Errorf("write checkpoint: %w", err)
		}
		done += len(batch)
		nextCheckpoint++
		elapsed := time.Since(start).Seconds()
		rate := float64(done-len(prior)) / elapsed
		log.Infof("predicted %d/%d records (%.2f records/s)", done, len(entries), rate)
	}

	ok := 0
	for _, p := range results {
		if p.Success {
			ok++
		}
	}
	log.Infof("prediction success rate %d/%d (%.1f%%)", ok, len(results),
		100*float64(ok)/float64(max(len(results), 1)))
	return results, nil
}

// runBatch predicts one checkpoint-sized batch. Unique windows are
// fetched (concurrently when Threads > 1) and the per-entry results
// assembled in input order afterwards, so checkpoint contents never
// depend on completion order.
func (bp *batchPredictor) runBatch(ctx context.Context, batch []ReconstructedSequence, cache map[[32]byte]PredictionResult) ([]PredictionResult, error) {
	type fetch struct {
		window string
		scores map[string]float64
		err    error
	}
	pending := map[[32]byte]*fetch{}
	for _, ent := range batch {
		digest := blake2b.Sum256([]byte(ent.Window))
		if _, ok := cache[digest]; ok {
			continue
		}
		if _, ok := pending[digest]; ok {
			continue
		}
		pending[digest] = &fetch{window: ent.Window}
	}

	workers := throttle{Max: max(bp.Threads, 1)}
	for _, f := range pending {
		f := f
		workers.Go(func() error {
			tracks, err := bp.Predictor.Predict(ctx, f.window)
			if err != nil {
				// Remote failures cost one data point, not
				// the batch; only record-independent
				// failures (cancellation) propagate.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.err = err
				return nil
			}
			f.scores = summarizeTracks(tracks)
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	results := make([]PredictionResult, 0, len(batch))
	for _, ent := range batch {
		p := PredictionResult{VariantRecord: ent.VariantRecord}
		digest := blake2b.Sum256([]byte(ent.Window))
		if hit, ok := cache[digest]; ok {
			p.Scores = hit.Scores
			p.Success = true
		} else if f := pending[digest]; f.err != nil {
			p.Scores = nanScores()
			p.Err = f.err.Error()
		} else {
			p.Scores = f.scores
			p.Success = true
			cache[digest] = p
		}
		results = append(results, p)
	}
	return results, nil
}

// predictcmd runs the batch predictor over successfully reconstructed
// windows and writes the merged prediction table.
type predictcmd struct {
	inputFilename  string
	outputFilename string
	checkpointDir  string
	interval       int
	threads        int
	url            string
	ontology       string
	timeout        time.Duration
}

func (cmd *predictcmd) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cmd.inputFilename, "i", "-", "reconstructed window table `file`")
	flags.StringVar(&cmd.outputFilename, "o", "-", "output `file`")
	flags.StringVar(&cmd.checkpointDir, "checkpoint-dir", "", "checkpoint `directory` (required)")
	flags.IntVar(&cmd.interval, "interval", 100, "checkpoint every `N` records")
	flags.IntVar(&cmd.threads, "threads", 1, "concurrent prediction requests")
	flags.StringVar(&cmd.url, "url", "", "prediction service `URL` (required)")
	flags.StringVar(&cmd.ontology, "ontology", "EFO:0002067", "cell/tissue context ontology `term`")
	flags.DurationVar(&cmd.timeout, "timeout", time.Minute, "per-request timeout")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if cmd.checkpointDir == "" {
		fmt.Fprintln(stderr, "cannot predict without -checkpoint-dir argument")
		return 2
	} else if cmd.url == "" {
		fmt.Fprintln(stderr, "cannot predict without -url argument")
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

	if err = os.MkdirAll(cmd.checkpointDir, 0777); err != nil {
		return 1
	}

	input, err := openInput(cmd.inputFilename, stdin)
	if err != nil {
		return 1
	}
	table, err := readCSVTable(bufio.NewReader(input), windowColumns...)
	input.Close()
	if err != nil {
		return 1
	}
	var entries []ReconstructedSequence
	skipped := 0
	for _, row := range table.rows {
		var rec VariantRecord
		rec, err = table.variantRecord(row)
		if err != nil {
			return 1
		}
		if table.get(row, "success") != "true" {
			skipped++
			continue
		}
		offset, _ := strconv.Atoi(table.get(row, "offset"))
		entries = append(entries, ReconstructedSequence{
			VariantRecord: rec,
			Window:        table.get(row, "window"),
			Offset:        offset,
			Success:       true,
		})
	}
	if skipped > 0 {
		log.Warnf("skipping %d records with failed reconstruction", skipped)
	}

	bp := &batchPredictor{
		Predictor: &trackClient{
			URL:      cmd.url,
			APIKey:   os.Getenv("PREDICTOR_API_KEY"),
			Ontology: cmd.ontology,
			Client:   &http.Client{Timeout: cmd.timeout},
		},
		CheckpointDir: cmd.checkpointDir,
		Interval:      cmd.interval,
		Threads:       cmd.threads,
	}
	results, err := bp.Run(context.Background(), entries)
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
	err = w.Write(predictionResultColumns)
	if err != nil {
		return 1
	}
	for i := range results {
		err = w.Write(results[i].csvFields())
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
	return 0
}
