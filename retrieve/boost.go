package retrieve

import (
	"regexp"
	"strings"
	"time"

	"github.com/quietloop/memoria"
)

// safetyMarkers maps a health_wellness marker keyword to its boost
// weight. Checked in this order so a memory mentioning both an allergy and
// a medication gets the larger of the two, not both summed, keeping the
// boost bounded.
var safetyMarkers = []struct {
	pattern *regexp.Regexp
	boost   float64
}{
	{regexp.MustCompile(`(?i)\ballerg`), 0.25},
	{regexp.MustCompile(`(?i)\bmedicat|\bprescri`), 0.20},
	{regexp.MustCompile(`(?i)\bcondition|\bdiagnos`), 0.15},
}

// safetyCriticalBoost returns the Stage 4.1 boost for a health_wellness
// memory, or 0 if category isn't health_wellness or no marker matches.
func safetyCriticalBoost(category, content string) float64 {
	if category != "health_wellness" {
		return 0
	}
	for _, m := range safetyMarkers {
		if m.pattern.MatchString(content) {
			return m.boost
		}
	}
	return 0
}

// ordinalBoost returns the Stage 4.2 boost: +0.40 when the memory content
// carries the same ordinal as the query, -0.20 when it carries a
// different one, 0 when the query has no ordinal or the memory mentions
// none.
func ordinalBoost(queryOrdinal int, queryHasOrdinal bool, content string) float64 {
	if !queryHasOrdinal {
		return 0
	}
	memOrdinal, ok := detectOrdinal(content)
	if !ok {
		return 0
	}
	if memOrdinal == queryOrdinal {
		return 0.40
	}
	return -0.20
}

// explicitRecallBoost returns the Stage 4.3 boost: +0.70 when the query is
// an explicit recall request and the memory's metadata marks it as an
// explicit storage request.
func explicitRecallBoost(recallMode bool, meta memoria.Metadata) float64 {
	if recallMode && meta.ExplicitStorageRequest() {
		return 0.70
	}
	return 0
}

// recencyComponent computes the Stage 4.4 recency term. In recall mode it
// uses the tiered buckets (<15min, <2.4h, <24h); otherwise a smooth decay
// over windowDays.
func recencyComponent(createdAt time.Time, recallMode bool, windowDays int) float64 {
	age := time.Since(createdAt)
	if recallMode {
		switch {
		case age < 15*time.Minute:
			return 0.50
		case age < 144*time.Minute: // 2.4h
			return 0.35
		case age < 24*time.Hour:
			return 0.20
		default:
			return 0
		}
	}
	window := time.Duration(windowDays) * 24 * time.Hour
	return recencyDecay(createdAt, window)
}

// hybridScore assembles the Stage 4.4 final score: boosted similarity plus
// a weighted recency component plus a weighted confidence component.
func hybridScore(boostedSimilarity, recency, confidence float64, cfg Config) float64 {
	return boostedSimilarity + recency*cfg.RecencyBoostWeight + confidence*cfg.ConfidenceWeight
}

// applyBoosts runs the full Stage 4 pipeline over a single candidate's
// baseline similarity, in the fixed order that keeps results correct:
// safety, ordinal, explicit-recall, then the hybrid assembly. Returns the
// final score and whether a safety boost was applied (for telemetry's
// SafetyMemoriesBoosted counter).
func applyBoosts(m memoria.Memory, baseline float64, q queryContext, cfg Config) (score float64, safetyBoosted bool) {
	boosted := baseline

	if sb := safetyCriticalBoost(m.Category, m.Content); sb > 0 {
		boosted += sb
		safetyBoosted = true
	}

	boosted += ordinalBoost(q.ordinalValue, q.hasOrdinal, m.Content)
	boosted += explicitRecallBoost(q.recallMode, m.Metadata)

	recency := recencyComponent(m.CreatedAt, q.recallMode, cfg.RecencyBoostDays)
	score = hybridScore(boosted, recency, m.FingerprintConfidence, cfg)
	return score, safetyBoosted
}

// queryContext carries the Stage 0 detections through scoring and
// boosting so later stages don't re-derive them per candidate.
type queryContext struct {
	recallMode    bool
	personal      bool
	hasOrdinal    bool
	ordinalValue  int
	embeddingText string
	safetyDomains []string
	safetyHit     bool
}

func newQueryContext(query string) queryContext {
	ordVal, hasOrd := detectOrdinal(query)
	categories, safetyHit := detectSafetyCategories(query)
	return queryContext{
		recallMode:    isRecallQuery(query),
		personal:      isPersonalQuery(query),
		hasOrdinal:    hasOrd,
		ordinalValue:  ordVal,
		embeddingText: expandForEmbedding(query),
		safetyDomains: categories,
		safetyHit:     safetyHit,
	}
}

// effectiveMinSimilarity picks the Stage 5 threshold tier.
func effectiveMinSimilarity(q queryContext, cfg Config) float64 {
	switch {
	case q.recallMode:
		return cfg.MinSimilarityRecall
	case q.personal:
		return cfg.MinSimilarityPersonal
	default:
		return cfg.MinSimilarity
	}
}

// trimmedLower is a small shared helper used by query classification.
func trimmedLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
