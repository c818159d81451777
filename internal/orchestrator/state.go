package orchestrator

// State is a step of the question-answering pipeline.
type State string

const (
	StateStart        State = "start"
	StateCacheLookup  State = "cache_lookup"
	StateReturnCached State = "return_cached"
	StateVectorQuery  State = "vector_query"
	StateNoEvidence   State = "no_evidence"
	StateRerank       State = "rerank"
	StateGenerate     State = "generate"
	StateStreamOut    State = "stream_out"
	StateDone         State = "done"
)

// Outcome is how a question was answered.
type Outcome string

const (
	OutcomeCached     Outcome = "cached"
	OutcomeGenerated  Outcome = "generated"
	OutcomeNoEvidence Outcome = "no_evidence"
)

// Mode selects what an ingestion stores.
type Mode string

const (
	// ModeEvidence segments PDFs into the workspace's evidence collection.
	ModeEvidence Mode = "evidence"
	// ModeCache loads question/answer CSVs into the workspace's cache.
	ModeCache Mode = "cache"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEvidence, ModeCache:
		return Mode(s), nil
	default:
		return "", invalidInput("unknown ingest mode %q (supported: evidence, cache)", s)
	}
}
