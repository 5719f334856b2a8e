package harvest

import (
	"time"
)

// RawDocument is an unparsed response body plus fetch metadata. It is
// immutable once cached.
type RawDocument struct {
	Key         WorkKey
	Body        []byte
	StatusCode  int
	ContentType string
	FetchedAt   time.Time
	// ContentHash is the hex SHA-256 of Body, populated by the cache for
	// content-addressed entries.
	ContentHash string
}

// State is the lifecycle state of a tracked work item.
type State string

// Tracker states. Records transition only forward, except failed -> pending
// when a retry round re-queues an item. Succeeded is terminal and idempotent
// to re-mark.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Record is the tracker's durable entry for one WorkKey.
type Record struct {
	Key       WorkKey
	State     State
	Reason    string
	Attempts  int
	UpdatedAt time.Time
}

// Snapshot is the tracker's view of all known work, used for resumption and
// reporting.
type Snapshot struct {
	Pending   []Record
	Succeeded []Record
	Failed    []Record
}

// CaseSummary is one entry of the listing endpoint: enough to derive the
// detail key, nothing more. Listing payloads never carry audio fields.
type CaseSummary struct {
	Term   string
	Docket string
	Name   string
}

// Case is the canonical case entity. It is rebuilt, never mutated, when the
// source data changes.
type Case struct {
	ID          string
	Name        string
	Docket      string
	Term        string
	Description string
	ArgueDate   time.Time
	Arguments   []ArgumentRef
}

// ArgumentRef points at an oral argument document owned by a Case.
type ArgumentRef struct {
	ID   string
	Href string
}

// AudioRef locates the audio recording of an oral argument. When the source
// carries no usable duration, DurationUnknown is set and Duration stays zero;
// callers must check the flag rather than trust the zero.
type AudioRef struct {
	URL             string
	MIME            string
	Duration        float64
	DurationUnknown bool
}

// Speaker is a participant in one oral argument, unique by Identifier within
// that argument.
type Speaker struct {
	Identifier string
	Name       string
	Role       string
}

// Utterance is one timed, attributed span of speech. End > Start always
// holds for normalized utterances; violating spans are dropped at
// normalization time. SpeakerID is a non-owning reference into the parent
// argument's Speakers.
type Utterance struct {
	Start     float64
	End       float64
	SpeakerID string
	Text      string
	Section   string
	Turn      int
}

// OralArgument is one argument session: its audio reference plus the ordered
// speakers and utterances extracted from the transcript structure.
type OralArgument struct {
	CaseID     string
	Title      string
	Date       time.Time
	Audio      AudioRef
	Speakers   []Speaker
	Utterances []Utterance
}

// SpeakerByID resolves an utterance's speaker reference.
func (a *OralArgument) SpeakerByID(id string) (Speaker, bool) {
	for _, s := range a.Speakers {
		if s.Identifier == id {
			return s, true
		}
	}
	return Speaker{}, false
}

// Report summarizes one harvest run.
type Report struct {
	RunID              string
	Started            time.Time
	Finished           time.Time
	Succeeded          int
	Failed             map[string]string
	// FailedRetryable counts Failed entries whose last error was transient;
	// a later run with the same tracker will re-attempt them.
	FailedRetryable    int
	SkippedCached      int
	Retries            int
	RejectedUtterances int
	// ShortPages lists listing keys that returned fewer items than the
	// established page size; surfaced rather than silently accepted.
	ShortPages []string
	// LimiterSaturated reports that the rate limiter pegged at its maximum
	// delay at some point during the run. A slowdown signal, not an error.
	LimiterSaturated bool
}

// FailureCount returns the number of keys that ended the run failed.
func (r Report) FailureCount() int {
	return len(r.Failed)
}
