package domain

// JobStatus is the mirrored lifecycle state of an escrow job
type JobStatus string

// Job status constants
const (
	JobStatusActive        JobStatus = "Active"
	JobStatusDisputeRaised JobStatus = "DisputeRaised"
	JobStatusAIResolved    JobStatus = "AIResolved"
	JobStatusResolved      JobStatus = "Resolved"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []JobStatus{
	JobStatusActive,
	JobStatusDisputeRaised,
	JobStatusAIResolved,
	JobStatusResolved,
}

// edges holds the allowed status moves. Self-edges make re-affirmation idempotent.
var edges = map[JobStatus][]JobStatus{
	JobStatusActive:        {JobStatusActive, JobStatusDisputeRaised, JobStatusResolved},
	JobStatusDisputeRaised: {JobStatusDisputeRaised, JobStatusAIResolved, JobStatusResolved},
	JobStatusAIResolved:    {JobStatusAIResolved, JobStatusDisputeRaised, JobStatusResolved},
	JobStatusResolved:      {JobStatusResolved},
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	_, ok := edges[s]
	return ok
}

// Terminal reports whether no event can move a job out of s
func (s JobStatus) Terminal() bool {
	return s == JobStatusResolved
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to JobStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is a guarded status write: To is applied only when the current
// status is one of From.
type Transition struct {
	To   JobStatus
	From []JobStatus
	// RejectsVerdict marks the job so a verdict recorded later is refused
	RejectsVerdict bool
}

// Allows reports whether the transition applies to a job currently in status
func (t Transition) Allows(current JobStatus) bool {
	for _, s := range t.From {
		if s == current {
			return true
		}
	}
	return false
}

// FromStrings returns the guard statuses as plain strings for SQL arrays
func (t Transition) FromStrings() []string {
	out := make([]string, len(t.From))
	for i, s := range t.From {
		out[i] = string(s)
	}
	return out
}

// eventTransitions maps each status-changing event to its guarded write.
// A DisputeRaised redelivered after the AI verdict was recorded must not
// reopen the dispute, so its guard excludes AIResolved.
var eventTransitions = map[EventName]Transition{
	EventJobCreated: {
		To:   JobStatusActive,
		From: []JobStatus{JobStatusActive},
	},
	EventDisputeRaised: {
		To:   JobStatusDisputeRaised,
		From: []JobStatus{JobStatusActive, JobStatusDisputeRaised},
	},
	EventAIVerdictRejected: {
		To:             JobStatusDisputeRaised,
		From:           []JobStatus{JobStatusAIResolved, JobStatusDisputeRaised},
		RejectsVerdict: true,
	},
	EventVotingSessionStarted: {
		To:   JobStatusDisputeRaised,
		From: []JobStatus{JobStatusActive, JobStatusDisputeRaised, JobStatusAIResolved},
	},
	EventFundsReleased: {
		To:   JobStatusResolved,
		From: []JobStatus{JobStatusActive, JobStatusDisputeRaised, JobStatusAIResolved, JobStatusResolved},
	},
	EventVotingFinalized: {
		To:   JobStatusResolved,
		From: []JobStatus{JobStatusActive, JobStatusDisputeRaised, JobStatusAIResolved, JobStatusResolved},
	},
}

// VerdictTransition guards recording a confirmed AI verdict. A job whose
// verdict was already rejected on-chain never accepts one.
var VerdictTransition = Transition{
	To:   JobStatusAIResolved,
	From: []JobStatus{JobStatusDisputeRaised},
}

// TransitionFor returns the guarded write for an event, if the event changes status
func TransitionFor(name EventName) (Transition, bool) {
	t, ok := eventTransitions[name]
	return t, ok
}
