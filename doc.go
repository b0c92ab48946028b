// Package memoria is a long-term semantic memory store for an LLM
// assistant: it ingests conversational turns, extracts superseding facts
// from them, embeds them for semantic retrieval, enforces transactional
// consistency on fact updates, and returns a bounded, ranked set of
// memories to inject into a model prompt.
//
// It is multi-tenant (per user_id), mode-partitioned (isolation between a
// general context and privileged "vault" contexts), and operates under a
// strict token budget for injection.
//
// # Core Interfaces
//
// The root package defines the contracts every component implements:
//
//   - [Store] — persistence, the one-current-fact invariant, supersession
//   - [EmbeddingProvider] — text-to-vector embedding with timeout/failure
//     distinction
//   - [Classifier] — optional bounded LLM fallback for fact fingerprinting
//   - [Provider] — the narrow chat contract Classifier fallbacks are built on
//   - [Tracer] — span instrumentation, no-op when unconfigured
//
// # Included Implementations
//
// Storage: store/postgres (pgvector, HNSW), store/sqlite (local, brute-force
// cosine). Embedding/chat transport: provider/embedclient,
// provider/openaicompat. Supporting packages: fingerprint (deterministic
// fact classification), retrieve (the scoring and boost pipeline),
// backfill (the resumable embedding worker), extract (LLM-response fact
// extraction), tokencount, querycache, telemetry/otel.
//
// See cmd/memoriad for a reference wiring of the storage, embedding,
// fingerprint, backfill and telemetry pieces; it does not use retrieve,
// extract, tokencount or querycache.
package memoria
