package model

import (
	"slices"

	"github.com/rotisserie/eris"
)

// Status represents the lifecycle state of a submission.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusProcessing       Status = "processing"
	StatusComplete         Status = "complete"
	StatusFailed           Status = "failed"
	StatusManualReview     Status = "manual_review"
	StatusInsufficientData Status = "insufficient_data"
)

// ErrIllegalTransition is returned when a status change is not an edge of the
// submission state machine.
var ErrIllegalTransition = eris.New("illegal status transition")

// transitions lists the allowed edges. Terminal states have no entry.
// processing -> processing is the re-entry taken when a redelivered job
// resumes a run that crashed mid-pipeline.
var transitions = map[Status][]Status{
	StatusQueued: {StatusProcessing},
	StatusProcessing: {
		StatusProcessing,
		StatusComplete,
		StatusFailed,
		StatusManualReview,
		StatusInsufficientData,
	},
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	return []Status{
		StatusQueued,
		StatusProcessing,
		StatusComplete,
		StatusFailed,
		StatusManualReview,
		StatusInsufficientData,
	}
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", eris.Errorf("model: unknown status %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses(), s)
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s.Valid() && s != StatusQueued && s != StatusProcessing
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s Status) CanTransition(to Status) bool {
	return slices.Contains(transitions[s], to)
}

// CheckTransition returns ErrIllegalTransition (wrapped with both states)
// when from -> to is not allowed.
func CheckTransition(from, to Status) error {
	if !from.CanTransition(to) {
		return eris.Wrapf(ErrIllegalTransition, "%s -> %s", from, to)
	}
	return nil
}
