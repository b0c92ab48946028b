package otel

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for memoria observability spans and metrics.
var (
	AttrUserID = attribute.Key("memoria.user_id")
	AttrMode   = attribute.Key("memoria.mode")
	AttrMethod = attribute.Key("memoria.method")

	AttrCategory          = attribute.Key("memoria.category")
	AttrFingerprintMethod = attribute.Key("memoria.fingerprint.method")
	AttrFingerprintKey    = attribute.Key("memoria.fingerprint.key")

	AttrCandidatesConsidered = attribute.Key("memoria.retrieve.candidates_considered")
	AttrVectorsCompared      = attribute.Key("memoria.retrieve.vectors_compared")
	AttrResultsInjected      = attribute.Key("memoria.retrieve.results_injected")
	AttrTokensUsed           = attribute.Key("memoria.retrieve.tokens_used")
	AttrFallbackUsed         = attribute.Key("memoria.retrieve.fallback_used")
	AttrFallbackReason       = attribute.Key("memoria.retrieve.fallback_reason")
	AttrSafetyCritical       = attribute.Key("memoria.retrieve.safety_critical")

	AttrSupersessionCount = attribute.Key("memoria.store.supersession_count")
	AttrEmbeddingStatus   = attribute.Key("memoria.embedding.status")

	AttrBackfillProcessed = attribute.Key("memoria.backfill.processed")
	AttrBackfillFailed    = attribute.Key("memoria.backfill.failed")
	AttrBackfillRemaining = attribute.Key("memoria.backfill.remaining")
)
