// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis is the statistical analysis engine of the
// visibility core. It turns the iteration records of one batch into
// visibility, share-of-voice, consistency, citation, and hallucination
// metrics.
//
// Everything here is a pure computation over completed records:
// rate-based metrics use the successful subset, the failure count is
// retained separately, and an empty input yields defined zero metrics
// with a diagnostic — never an error.
package analysis

import (
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
)

// DefaultPairSampleCap bounds pairwise similarity work independent of
// batch size.
const DefaultPairSampleCap = 1000

// z95 is the two-sided 95% critical value of the standard normal.
const z95 = 1.96

// ResponseFlagger is the externally supplied hallucination signal: it
// reports whether one successful response should count as flagged. The
// engine only aggregates this signal; the heuristic behind it is a
// collaborator concern.
type ResponseFlagger func(rec datatypes.IterationRecord) bool

// CitationFlagger returns a flagger that marks a response when it
// carries citations and none of them passes the whitelist.
func CitationFlagger(whitelist []string) ResponseFlagger {
	return func(rec datatypes.IterationRecord) bool {
		if len(rec.Citations) == 0 {
			return false
		}
		for _, url := range rec.Citations {
			if DomainAllowed(ExtractDomain(url), whitelist) {
				return false
			}
		}
		return true
	}
}

// BrandVisibility is the per-brand slice of the result.
type BrandVisibility struct {
	Brand                  string   `json:"brand"`
	MentionCount           int      `json:"mention_count"`
	ResponsesWithMention   int      `json:"responses_with_mention"`
	VisibilityRate         float64  `json:"visibility_rate"`
	ConfidenceLow          float64  `json:"confidence_low"`
	ConfidenceHigh         float64  `json:"confidence_high"`
	AvgMentionsPerResponse float64  `json:"avg_mentions_per_response"`
	FirstMentionCount      int      `json:"first_mention_count"`
	FirstMentionRate       float64  `json:"first_mention_rate"`
	AvgFirstOffset         *float64 `json:"avg_first_offset,omitempty"`
}

// ShareOfVoice is one brand's share of all tracked-brand mentions.
// Rank 1 is the most mentioned brand.
type ShareOfVoice struct {
	Brand string  `json:"brand"`
	Share float64 `json:"share"`
	Rank  int     `json:"rank"`
}

// Consistency summarizes pairwise response similarity (0-100 scale).
// Score normalizes the average to 0-1; higher means the provider gives
// more stable answers.
type Consistency struct {
	AvgSimilarity float64 `json:"avg_similarity"`
	MinSimilarity float64 `json:"min_similarity"`
	MaxSimilarity float64 `json:"max_similarity"`
	StdDeviation  float64 `json:"std_deviation"`
	Score         float64 `json:"consistency_score"`
	SampledPairs  int     `json:"sampled_pairs"`
}

// CitationValidity counts whitelist checks across all citations of
// the batch's successful responses.
type CitationValidity struct {
	Total       int      `json:"total_citations"`
	Valid       int      `json:"valid_citations"`
	Invalid     int      `json:"invalid_citations"`
	FlaggedURLs []string `json:"flagged_urls,omitempty"`
}

// Result is the complete metrics structure exposed to the API layer,
// including the annotated per-iteration records.
type Result struct {
	BatchRunID          uuid.UUID                   `json:"batch_run_id"`
	SuccessfulResponses int                         `json:"successful_responses"`
	FailureCount        int                         `json:"failure_count"`
	Target              *BrandVisibility            `json:"target_visibility,omitempty"`
	Competitors         []BrandVisibility           `json:"competitor_visibility,omitempty"`
	ShareOfVoice        []ShareOfVoice              `json:"share_of_voice,omitempty"`
	Consistency         Consistency                 `json:"consistency"`
	Citations           CitationValidity            `json:"citations"`
	FlaggedResponses    int                         `json:"flagged_responses"`
	HallucinationRate   float64                     `json:"hallucination_rate"`
	Records             []datatypes.IterationRecord `json:"-"`
}

// Config tunes the Analyzer. The zero value gets defaults.
type Config struct {
	// PairSampleCap caps similarity computations per batch. Zero means
	// DefaultPairSampleCap.
	PairSampleCap int

	// Flagger supplies the hallucination signal. Nil means the
	// citation-based default for batches with a whitelist.
	Flagger ResponseFlagger

	// Seed makes pair sampling deterministic when non-zero.
	Seed int64

	Logger *slog.Logger
}

// Analyzer computes batch metrics. Safe for concurrent use; each
// Analyze call builds its own sampling state.
type Analyzer struct {
	pairCap int
	flagger ResponseFlagger
	seed    int64
	logger  *slog.Logger
}

// New creates an Analyzer from cfg.
func New(cfg Config) *Analyzer {
	if cfg.PairSampleCap <= 0 {
		cfg.PairSampleCap = DefaultPairSampleCap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Analyzer{
		pairCap: cfg.PairSampleCap,
		flagger: cfg.Flagger,
		seed:    cfg.Seed,
		logger:  cfg.Logger,
	}
}

// Analyze computes all metrics for one batch. brands lists the tracked
// brands with the target first. The returned Records are the input
// records with mentions and cited domains filled in on the successful
// ones; input order is preserved.
func (a *Analyzer) Analyze(batchRunID uuid.UUID, records []datatypes.IterationRecord, brands []string, whitelist []string) *Result {
	result := &Result{
		BatchRunID: batchRunID,
		Records:    records,
	}

	successIdx := make([]int, 0, len(records))
	for i := range records {
		if records[i].Success {
			successIdx = append(successIdx, i)
		} else {
			result.FailureCount++
		}
	}
	result.SuccessfulResponses = len(successIdx)

	if len(successIdx) == 0 {
		a.logger.Warn("batch has zero successful responses, metrics defined as zero",
			"batch_run_id", batchRunID,
			"total_iterations", len(records),
			"failed", result.FailureCount)
		return result
	}

	patterns := make([]brandPattern, 0, len(brands))
	for _, brand := range brands {
		p, err := compileBrandPattern(brand)
		if err != nil {
			a.logger.Warn("skipping unmatchable brand", "brand", brand, "error", err)
			continue
		}
		patterns = append(patterns, p)
	}

	// Annotate successful records with mentions and cited domains.
	for _, i := range successIdx {
		rec := &records[i]
		rec.Mentions = extractMentions(patterns, rec.Response)
		if len(rec.Citations) > 0 {
			domains := make([]string, len(rec.Citations))
			for c, url := range rec.Citations {
				domains[c] = ExtractDomain(url)
			}
			rec.CitedDomains = domains
		}
	}

	visibility := a.computeVisibility(records, successIdx, patterns)
	if len(visibility) > 0 {
		result.Target = &visibility[0]
		result.Competitors = visibility[1:]
	}
	result.ShareOfVoice = computeShareOfVoice(visibility)
	result.Consistency = a.computeConsistency(records, successIdx)
	result.Citations = computeCitationValidity(records, successIdx, whitelist)

	flagger := a.flagger
	if flagger == nil && len(whitelist) > 0 {
		flagger = CitationFlagger(whitelist)
	}
	if flagger != nil {
		for _, i := range successIdx {
			if flagger(records[i]) {
				result.FlaggedResponses++
			}
		}
		result.HallucinationRate = float64(result.FlaggedResponses) / float64(len(successIdx))
	}

	return result
}

// computeVisibility builds per-brand metrics over the successful
// records, including the normal-approximation interval and the
// first-mention credit (at most one winner per response).
func (a *Analyzer) computeVisibility(records []datatypes.IterationRecord, successIdx []int, patterns []brandPattern) []BrandVisibility {
	n := len(successIdx)
	out := make([]BrandVisibility, len(patterns))
	firstCounts := make(map[string]int, len(patterns))

	type brandAgg struct {
		mentions     int
		responses    int
		firstOffsets []int
	}
	aggs := make([]brandAgg, len(patterns))

	for _, i := range successIdx {
		rec := records[i]

		perBrandFirst := make(map[string]int, len(patterns))
		perBrandCount := make(map[string]int, len(patterns))
		for _, m := range rec.Mentions {
			perBrandCount[m.Brand]++
			if _, ok := perBrandFirst[m.Brand]; !ok {
				perBrandFirst[m.Brand] = m.Offset
			}
		}
		for b := range aggs {
			brand := patterns[b].brand
			if count := perBrandCount[brand]; count > 0 {
				aggs[b].mentions += count
				aggs[b].responses++
				aggs[b].firstOffsets = append(aggs[b].firstOffsets, perBrandFirst[brand])
			}
		}

		// Exactly one first-mention credit per response, none when no
		// tracked brand appears.
		if winner, ok := firstMention(rec.Mentions); ok {
			firstCounts[winner.Brand]++
		}
	}

	for b, agg := range aggs {
		brand := patterns[b].brand
		rate := float64(agg.responses) / float64(n)
		lo, hi := confidenceInterval(rate, n)

		bv := BrandVisibility{
			Brand:                brand,
			MentionCount:         agg.mentions,
			ResponsesWithMention: agg.responses,
			VisibilityRate:       rate,
			ConfidenceLow:        lo,
			ConfidenceHigh:       hi,
			FirstMentionCount:    firstCounts[brand],
			FirstMentionRate:     float64(firstCounts[brand]) / float64(n),
		}
		if agg.responses > 0 {
			bv.AvgMentionsPerResponse = float64(agg.mentions) / float64(agg.responses)
			avg := meanInts(agg.firstOffsets)
			bv.AvgFirstOffset = &avg
		}
		out[b] = bv
	}
	return out
}

// computeShareOfVoice normalizes mention counts over the sum across
// all tracked brands, not over the iteration count. Shares sum to 1
// when any mentions exist; with zero total mentions every share is 0.
func computeShareOfVoice(visibility []BrandVisibility) []ShareOfVoice {
	if len(visibility) == 0 {
		return nil
	}

	total := 0
	for _, v := range visibility {
		total += v.MentionCount
	}

	out := make([]ShareOfVoice, len(visibility))
	for i, v := range visibility {
		out[i] = ShareOfVoice{Brand: v.Brand}
		if total > 0 {
			out[i].Share = float64(v.MentionCount) / float64(total)
		}
	}

	// Rank by mention count descending, stable on input order.
	counts := make([]int, len(visibility))
	for i, v := range visibility {
		counts[i] = v.MentionCount
	}
	for i := range out {
		rank := 1
		for j := range counts {
			if counts[j] > counts[i] || (counts[j] == counts[i] && j < i) {
				rank++
			}
		}
		out[i].Rank = rank
	}
	return out
}

// computeConsistency scores pairwise similarity across successful
// responses, sampling pairs when the full set exceeds the cap.
func (a *Analyzer) computeConsistency(records []datatypes.IterationRecord, successIdx []int) Consistency {
	if len(successIdx) < 2 {
		return Consistency{
			AvgSimilarity: 100.0,
			MinSimilarity: 100.0,
			MaxSimilarity: 100.0,
			Score:         1.0,
		}
	}

	seed := a.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	pairs := samplePairs(len(successIdx), a.pairCap, rng)
	sims := make([]float64, len(pairs))
	for k, p := range pairs {
		sims[k] = indelRatio(records[successIdx[p.i]].Response, records[successIdx[p.j]].Response)
	}

	avg := mean(sims)
	minSim, maxSim := sims[0], sims[0]
	for _, s := range sims[1:] {
		if s < minSim {
			minSim = s
		}
		if s > maxSim {
			maxSim = s
		}
	}

	return Consistency{
		AvgSimilarity: avg,
		MinSimilarity: minSim,
		MaxSimilarity: maxSim,
		StdDeviation:  sampleStdDev(sims, avg),
		Score:         avg / 100.0,
		SampledPairs:  len(pairs),
	}
}

// computeCitationValidity checks every citation of every successful
// response against the whitelist.
func computeCitationValidity(records []datatypes.IterationRecord, successIdx []int, whitelist []string) CitationValidity {
	var cv CitationValidity
	if len(whitelist) == 0 {
		return cv
	}

	for _, i := range successIdx {
		for _, url := range records[i].Citations {
			if url == "" {
				continue
			}
			cv.Total++
			if DomainAllowed(ExtractDomain(url), whitelist) {
				cv.Valid++
			} else {
				cv.Invalid++
				if len(cv.FlaggedURLs) < maxFlaggedURLs {
					cv.FlaggedURLs = append(cv.FlaggedURLs, url)
				}
			}
		}
	}
	return cv
}

// confidenceInterval returns the 95% normal-approximation interval for
// a proportion, clamped to [0, 1].
func confidenceInterval(p float64, n int) (lo, hi float64) {
	if n <= 0 {
		return 0, 0
	}
	half := z95 * math.Sqrt(p*(1-p)/float64(n))
	return math.Max(0, p-half), math.Min(1, p+half)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

// sampleStdDev uses Bessel's correction (n-1) for an unbiased
// estimate.
func sampleStdDev(xs []float64, avg float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - avg
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
