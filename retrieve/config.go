// Package retrieve implements the multi-stage retrieval pipeline: domain
// detection, query embedding, SQL prefiltering, scoring, an
// order-sensitive boost pipeline, threshold/sort, and token-budget
// selection. See Pipeline.Retrieve.
package retrieve

import "time"

// Config holds the closed set of retrieval-tunable options. Field names
// and defaults mirror the named option groups in the external interface
// contract.
type Config struct {
	MaxCandidates           int
	DefaultTopK             int
	MinSimilarity           float64
	MinSimilarityPersonal   float64
	MinSimilarityRecall     float64
	RecencyBoostDays        int
	RecencyBoostWeight      float64
	ConfidenceWeight        float64
	QueryEmbeddingTimeout   time.Duration
	DefaultTokenBudget      int
	EmbeddingLagWindow      time.Duration
	FallbackMaxResults      int
	AdaptiveCentroidWeight  float64
	DefaultEmbeddingModel   string
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() Config {
	return Config{
		MaxCandidates:          500,
		DefaultTopK:            10,
		MinSimilarity:          0.25,
		MinSimilarityPersonal:  0.18,
		MinSimilarityRecall:    0.10,
		RecencyBoostDays:       7,
		RecencyBoostWeight:     0.10,
		ConfidenceWeight:       0.05,
		QueryEmbeddingTimeout:  5 * time.Second,
		DefaultTokenBudget:     2000,
		EmbeddingLagWindow:     2 * time.Minute,
		FallbackMaxResults:     5,
		AdaptiveCentroidWeight: 0.15,
		DefaultEmbeddingModel:  "text-embedding-3-small",
	}
}
