package memoria

import (
	"encoding/json"
	"time"
)

// EmbeddingStatus is the lifecycle state of a Memory's vector embedding.
type EmbeddingStatus string

const (
	EmbeddingPending    EmbeddingStatus = "pending"
	EmbeddingProcessing EmbeddingStatus = "processing"
	EmbeddingReady      EmbeddingStatus = "ready"
	EmbeddingFailed     EmbeddingStatus = "failed"
	EmbeddingSkipped    EmbeddingStatus = "skipped"
)

// Mode partitions a user's memories. ModeVault reads across all modes of
// its user; it is the one privileged value, not a configuration knob.
type Mode string

const (
	ModeGeneral Mode = "truth-general"
	ModeVault   Mode = "site-monkeys"
)

// EmbeddingDimensions is the fixed vector width required for
// embedding_status to be "ready".
const EmbeddingDimensions = 1536

// Metadata is the opaque structured map attached to a Memory: anchors, the
// explicit-storage flag, ordinal info, the original phrase.
type Metadata map[string]any

// ExplicitStorageRequest reports whether the user explicitly asked that
// this memory be remembered. Drives the explicit-recall boost.
func (m Metadata) ExplicitStorageRequest() bool {
	v, _ := m["explicit_storage_request"].(bool)
	return v
}

// Ordinal returns the ordinal marker attached to this memory ("first",
// "second", ...), or "" if none was recorded.
func (m Metadata) Ordinal() string {
	v, _ := m["ordinal"].(string)
	return v
}

// Memory is the unit of storage: a single fact or conversational memory
// belonging to one user, partitioned by mode, optionally fingerprinted and
// embedded for semantic retrieval.
type Memory struct {
	ID                    int64
	UserID                string
	Mode                  Mode
	Category              string
	Content               string
	TokenCount            int
	Embedding             []float32
	EmbeddingStatus       EmbeddingStatus
	EmbeddingModel        string
	EmbeddingUpdatedAt    *time.Time
	FactFingerprint       string
	FingerprintConfidence float64
	IsCurrent             bool
	SupersededBy          *int64
	SupersededAt          *time.Time
	RelevanceScore        float64
	UsageFrequency        int
	LastAccessed          *time.Time
	CreatedAt             time.Time
	Metadata              Metadata
}

// FingerprintMethod records how a Fingerprint was produced.
type FingerprintMethod string

const (
	FingerprintDeterministic FingerprintMethod = "deterministic"
	FingerprintModel         FingerprintMethod = "model"
	FingerprintNone          FingerprintMethod = "none"
	FingerprintTimeout       FingerprintMethod = "timeout"
	FingerprintRejected      FingerprintMethod = "rejected"
)

// Fingerprint is the output of the fingerprint classifier: a canonical fact
// key, its confidence, the method that produced it, and whether the
// content satisfied the fingerprint's value-signature guard.
type Fingerprint struct {
	Key            string
	Confidence     float64
	Method         FingerprintMethod
	ValueSignature bool
}

// Present reports whether a supersession-eligible fingerprint was produced.
// A fingerprint whose value signature failed is never present, regardless
// of which rule proposed it.
func (f Fingerprint) Present() bool {
	return f.Key != "" && f.ValueSignature
}

// MemoryRequest is the input to Store.Store and Store.StoreWithoutSupersession.
type MemoryRequest struct {
	UserID      string
	Mode        Mode
	Content     string
	Category    string
	TokenCount  int
	Metadata    Metadata
	Fingerprint Fingerprint
}

// StoreResult is returned by Store.Store.
type StoreResult struct {
	ID            int64
	SupersededIDs []int64
	Fingerprint   string
}

// Prefilter is the parameterized candidate query consumed by
// Store.GetCandidates. It is built once per retrieval and never mutated.
type Prefilter struct {
	UserID          string
	Mode            Mode
	AllowCrossMode  bool
	IncludeAllModes bool
	Categories      []string
	IncludeHistory  bool
	MaxCandidates   int
}

// EmbedResult is returned by EmbeddingProvider.Embed.
type EmbedResult struct {
	Vector     []float32
	Dimensions int
	Model      string
	ElapsedMs  int64
}

// RetrieveOptions configures a single call to the retrieval pipeline. It is
// constructed once per request; every stage reads from the same value.
type RetrieveOptions struct {
	User            string
	Mode            Mode
	Query           string
	TopK            int
	TokenBudget     int
	Categories      []string
	IncludeAllModes bool
	AllowCrossMode  bool
}

// ScoredMemory is a Memory paired with its hybrid retrieval score. Score
// typically lands in [0, 2] once boosts are applied; higher is more
// relevant.
type ScoredMemory struct {
	Memory
	Score float64
}

// RetrieveResult is returned by the retrieval pipeline.
type RetrieveResult struct {
	Memories  []ScoredMemory
	Telemetry Telemetry
	Success   bool
}

// Telemetry records per-operation counters emitted for every store and
// retrieve call, regardless of success.
type Telemetry struct {
	Method                    string
	QueryLength               int
	Mode                      Mode
	Categories                []string
	CandidatesConsidered      int
	CandidatesWithEmbedding   int
	VectorsCompared           int
	CandidatesAboveThreshold  int
	ResultsInjected           int
	InjectedIDs               []int64
	TopScores                 []float64
	TokenBudget               int
	TokensUsed                int
	FallbackUsed              bool
	FallbackReason            string
	SafetyCriticalDetected    bool
	SafetyMemoriesBoosted     int
	WrongUserMemoriesFiltered int
	LatencyPhases             map[string]time.Duration
	Error                     string
}

// BackfillResult is returned by the backfill worker's Run.
type BackfillResult struct {
	Processed      int
	Succeeded      int
	Failed         int
	Remaining      int
	SecondsElapsed float64
}

// --- Minimal chat protocol, used only by the fingerprint classifier's
// bounded LLM fallback (see fingerprint.Classifier). ---

// ChatMessage is a single message in a classification request.
type ChatMessage struct {
	Role    string `json:"role"` // "system" or "user"
	Content string `json:"content"`
}

// ResponseSchema tells the provider to enforce structured JSON output.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// ChatRequest is a single, non-streaming, non-tool-calling chat call.
type ChatRequest struct {
	Messages       []ChatMessage   `json:"messages"`
	ResponseSchema *ResponseSchema `json:"response_schema,omitempty"`
}

// ChatResponse is the result of a ChatRequest.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage reports token accounting for a single chat call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// SystemMessage constructs a system-role ChatMessage.
func SystemMessage(text string) ChatMessage { return ChatMessage{Role: "system", Content: text} }

// UserMessage constructs a user-role ChatMessage.
func UserMessage(text string) ChatMessage { return ChatMessage{Role: "user", Content: text} }
