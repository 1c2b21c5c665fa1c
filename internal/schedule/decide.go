package schedule

import (
	"fmt"
	"time"
)

// Decision is the outcome for one resource in one window.
// Apply == false means NoChange.
type Decision struct {
	Apply   bool
	Target  int32
	Entry   Entry
	Index   int       // position of Entry in its Set
	FiredAt time.Time // fire instant of Entry inside the window
}

func NoChange() Decision { return Decision{} }

func (d Decision) String() string {
	if !d.Apply {
		return "no-change"
	}
	return fmt.Sprintf("apply %d (entry %d %q fired %s)", d.Target, d.Index, d.Entry.Trigger.String(), d.FiredAt.Format(time.RFC3339))
}

// EntryError reports an entry that fired but whose replicas could not be resolved.
// It excludes only that entry from the decision.
type EntryError struct {
	Index int
	Entry Entry
	Err   error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %d (%s): %v", e.Index, e.Entry.Trigger.String(), e.Err)
}

func (e EntryError) Unwrap() error { return e.Err }

// Candidate is an entry that fired in the window with its resolved replicas.
type Candidate struct {
	Index    int
	Entry    Entry
	FiredAt  time.Time
	Replicas int32
}

// Decide evaluates set against w.
//
// Entries that fired and resolved become candidates; the latest fire instant
// wins and, on equal instants, the entry declared last wins. Resolution
// failures are returned alongside and never block the other entries.
func Decide(set Set, w Window, annotations map[string]string) (Decision, []EntryError) {
	var (
		cands []Candidate
		errs  []EntryError
	)
	for i, e := range set {
		at, fired := e.Trigger.FiredIn(w)
		if !fired {
			continue
		}
		n, err := e.Replicas.Resolve(annotations)
		if err != nil {
			errs = append(errs, EntryError{Index: i, Entry: e, Err: err})
			continue
		}
		cands = append(cands, Candidate{Index: i, Entry: e, FiredAt: at, Replicas: n})
	}
	return Pick(cands), errs
}

// Pick applies the tie-break policy to already-resolved candidates.
func Pick(cands []Candidate) Decision {
	if len(cands) == 0 {
		return NoChange()
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.FiredAt.After(best.FiredAt) || (c.FiredAt.Equal(best.FiredAt) && c.Index > best.Index) {
			best = c
		}
	}
	return Decision{
		Apply:   true,
		Target:  best.Replicas,
		Entry:   best.Entry,
		Index:   best.Index,
		FiredAt: best.FiredAt,
	}
}
