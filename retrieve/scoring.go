package retrieve

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either is empty or they differ in length (a malformed stored embedding
// must never panic the pipeline).
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// highEntropyToken matches codes like "ABC-DEF-1234": a mix of letters,
// digits, and internal hyphens long enough to be a deliberate identifier
// rather than ordinary prose.
var highEntropyToken = regexp.MustCompile(`\b[A-Za-z0-9]+(?:-[A-Za-z0-9]+){1,}\b`)

// stopWords are excluded from term-overlap scoring so that shared function
// words don't inflate similarity between unrelated sentences.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"i": true, "you": true, "my": true, "me": true, "to": true, "of": true,
	"and": true, "in": true, "on": true, "for": true, "it": true, "what": true,
	"did": true, "do": true, "does": true, "that": true, "this": true,
}

var wordSplit = regexp.MustCompile(`[^\p{L}\p{N}-]+`)

func significantTerms(s string) map[string]bool {
	terms := make(map[string]bool)
	for _, w := range wordSplit.Split(strings.ToLower(s), -1) {
		if w == "" || stopWords[w] {
			continue
		}
		terms[w] = true
	}
	return terms
}

// heuristicScore scores a lag-augmented candidate (no embedding yet)
// against query using the three-strategy fallback: exact high-entropy
// token match, exact significant-term overlap, then a looser overlap ratio
// with a small recency bonus. recallMode and explicitStorageRequest, when
// both true, override the score to 0.99 so an explicitly-requested memory
// always wins a recall query.
func heuristicScore(query, content string, createdAt time.Time, recallMode, explicitStorageRequest bool) float64 {
	if recallMode && explicitStorageRequest {
		return 0.99
	}

	if tok := highEntropyToken.FindString(query); tok != "" && strings.Contains(content, tok) {
		return 0.95
	}

	qTerms := significantTerms(query)
	cTerms := significantTerms(content)
	if len(qTerms) == 0 || len(cTerms) == 0 {
		return 0
	}

	overlap := 0
	for t := range qTerms {
		if cTerms[t] {
			overlap++
		}
	}
	if overlap == 0 {
		return 0
	}

	ratio := float64(overlap) / float64(len(qTerms))
	if overlap == len(qTerms) {
		// exact term overlap: scale within 0.70-0.90 by how much of the
		// content the matched terms cover, favoring tighter matches.
		coverage := float64(overlap) / float64(len(cTerms))
		return 0.70 + 0.20*math.Min(coverage, 1.0)
	}

	recencyBonus := recencyDecay(createdAt, 7*24*time.Hour) * 0.05
	score := ratio*0.5 + recencyBonus
	if score > 0.69 {
		score = 0.69
	}
	return score
}

// recencyDecay returns a value in [0, 1] that decays smoothly from 1 (now)
// toward 0 as age approaches window.
func recencyDecay(t time.Time, window time.Duration) float64 {
	age := time.Since(t)
	if age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}
