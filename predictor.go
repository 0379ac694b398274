// Copyright (C) The mprabench Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package mprabench

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"gonum.org/v1/gonum/stat"
)

// assays are the prediction outputs requested from the remote service,
// with the column prefix used for their summary statistics.
var assays = []struct {
	Name   string // wire name
	Prefix string // output column prefix
}{
	{"dnase", "dnase"},
	{"rna_seq", "rna"},
	{"cage", "cage"},
}

// predictionColumns lists the summary scalar columns in output order:
// one (assay, statistic) pair per column.
var predictionColumns = func() []string {
	var cols []string
	for _, a := range assays {
		for _, s := range []string{"center", "mean", "max"} {
			cols = append(cols, a.Prefix+"_"+s)
		}
	}
	return cols
}()

// TrackSet maps an assay name to its predicted per-position track.
type TrackSet map[string][]float64

// Predictor is the remote prediction service: fixed-length DNA
// sequence in, per-assay numeric tracks out.
type Predictor interface {
	Predict(ctx context.Context, sequence string) (TrackSet, error)
}

// trackClient calls an HTTP prediction endpoint. The request/response
// is a small JSON envelope; the service itself is opaque.
type trackClient struct {
	URL      string
	APIKey   string
	Ontology string // cell/tissue context identifier, e.g. EFO:0002067
	Client   *http.Client
}

type predictRequest struct {
	Sequence         string   `json:"sequence"`
	OntologyTerms    []string `json:"ontology_terms"`
	RequestedOutputs []string `json:"requested_outputs"`
}

type predictResponse struct {
	Tracks map[string][]float64 `json:"tracks"`
	Error  string               `json:"error,omitempty"`
}

func (tc *trackClient) Predict(ctx context.Context, sequence string) (TrackSet, error) {
	outputs := make([]string, len(assays))
	for i, a := range assays {
		outputs[i] = a.Name
	}
	body, err := json.Marshal(predictRequest{
		Sequence:         sequence,
		OntologyTerms:    []string{tc.Ontology},
		RequestedOutputs: outputs,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if tc.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+tc.APIKey)
	}
	client := tc.Client
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("predictor returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var pr predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("malformed predictor response: %w", err)
	}
	if pr.Error != "" {
		return nil, fmt.Errorf("predictor error: %s", pr.Error)
	}
	for _, a := range assays {
		if len(pr.Tracks[a.Name]) == 0 {
			return nil, fmt.Errorf("predictor response missing %s track", a.Name)
		}
	}
	return pr.Tracks, nil
}

// summarizeTracks reduces per-position tracks to the summary scalars:
// mean of the central region, whole-window mean, and whole-window max.
func summarizeTracks(tracks TrackSet) map[string]float64 {
	scores := make(map[string]float64, len(predictionColumns))
	for _, a := range assays {
		values := tracks[a.Name]
		scores[a.Prefix+"_center"] = centerMean(values)
		scores[a.Prefix+"_mean"] = stat.Mean(values, nil)
		scores[a.Prefix+"_max"] = sliceMax(values)
	}
	return scores
}

// centerMean averages the central centerSpan positions of a track.
func centerMean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	lo := len(values)/2 - centerSpan/2
	hi := len(values)/2 + centerSpan/2
	if lo < 0 {
		lo = 0
	}
	if hi > len(values) {
		hi = len(values)
	}
	return stat.Mean(values[lo:hi], nil)
}

func sliceMax(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func nanScores() map[string]float64 {
	scores := make(map[string]float64, len(predictionColumns))
	for _, col := range predictionColumns {
		scores[col] = math.NaN()
	}
	return scores
}
