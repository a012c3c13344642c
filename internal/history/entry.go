// Package history holds the bounded audit trail of generated random numbers:
// sequence allocation, the retention-capped log and its integrity check.
package history

// MaxEntries is the default retention cap of a Log.
const MaxEntries = 1000

// CallContext describes who asked for a number and under which host state.
// ExecutionRound, Version and ResourceCost are optional metadata; zero means
// the host did not report them.
type CallContext struct {
	Caller         *string `json:"caller"`
	ExecutionRound uint64  `json:"execution_round"`
	Version        uint64  `json:"version"`
	ResourceCost   uint64  `json:"resource_cost"`
}

// Entry is one audited random number.
type Entry struct {
	Value       uint64      `json:"value,string"`
	Timestamp   int64       `json:"timestamp"` // unix nanoseconds
	SequenceID  uint64      `json:"sequence_id"`
	CallContext CallContext `json:"call_context"`
}

// CallerOrEmpty returns the caller identity, or "" when it was not captured.
func (e Entry) CallerOrEmpty() string {
	if e.CallContext.Caller == nil {
		return ""
	}
	return *e.CallContext.Caller
}

// clone copies e so that the caller pointer is not shared with the log.
func (e Entry) clone() Entry {
	if e.CallContext.Caller != nil {
		caller := *e.CallContext.Caller
		e.CallContext.Caller = &caller
	}
	return e
}
