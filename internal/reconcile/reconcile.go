// Package reconcile realigns a file's stored tag details with a freshly
// parsed list of tag occurrences.
//
// Alignment is positional and assumes each change is a single contiguous run
// of insertions or deletions. Anything else still produces a result, but the
// result is reported as Ambiguous so the caller can decide whether to apply it.
package reconcile

import (
	"slices"

	"github.com/starford/tagledger/internal/models"
)

// Shadow is a per-occurrence text buffer kept index-aligned with the
// fingerprint list. Reconcile inserts and removes entries at the same indices
// it edits.
type Shadow interface {
	Insert(i int, text string)
	Remove(i int)
}

// Kind is the shape of the edit that was applied.
type Kind int

// Edit kinds.
const (
	Noop Kind = iota
	Rewrite
	Grow
	Shrink
)

func (k Kind) String() string {
	switch k {
	case Rewrite:
		return "rewrite"
	case Grow:
		return "grow"
	case Shrink:
		return "shrink"
	}
	return "noop"
}

// Outcome tells whether the edit is known to line up with the new occurrences.
type Outcome int

// Outcomes.
const (
	Aligned Outcome = iota
	Ambiguous
)

func (o Outcome) String() string {
	if o == Ambiguous {
		return "ambiguous"
	}
	return "aligned"
}

// Result describes what Reconcile did.
type Result struct {
	Kind     Kind
	Changed  bool
	Outcome  Outcome
	Inserted []int // indices in the new list
	Removed  []int // indices at the time of removal
}

// Reconcile edits state in place so that it describes current, and mirrors
// every insertion and removal into shadow when it is non-nil.
//
// Equal-length lists keep every record and only refresh fingerprints that
// differ. A longer list inserts absent records where fingerprints first stop
// matching; a shorter list removes entries where they first stop matching.
// Trailing entries past the edit are assumed unchanged.
func Reconcile(state *models.FileTagState, current []models.TagOccurrence, shadow Shadow) Result {
	state.Normalize()
	fps := models.Fingerprints(current)
	prev := len(state.Fingerprints)

	switch {
	case prev == len(fps):
		return rewrite(state, fps)
	case prev < len(fps):
		res := grow(state, fps, shadow)
		res.Outcome = check(state, current)
		return res
	default:
		res := shrink(state, fps, shadow)
		res.Outcome = check(state, current)
		return res
	}
}

func rewrite(state *models.FileTagState, fps []string) Result {
	res := Result{Kind: Noop}
	for i, fp := range fps {
		if state.Fingerprints[i] != fp {
			state.Fingerprints[i] = fp
			res.Changed = true
		}
	}
	if res.Changed {
		res.Kind = Rewrite
	}
	return res
}

func grow(state *models.FileTagState, fps []string, shadow Shadow) Result {
	res := Result{Kind: Grow, Changed: true}
	budget := len(fps) - len(state.Fingerprints)
	for i := 0; i < len(fps) && budget > 0; i++ {
		if i < len(state.Fingerprints) && state.Fingerprints[i] == fps[i] {
			continue
		}
		state.Fingerprints = slices.Insert(state.Fingerprints, i, fps[i])
		state.Records = slices.Insert(state.Records, i, (*models.Record)(nil))
		if shadow != nil {
			shadow.Insert(i, "")
		}
		res.Inserted = append(res.Inserted, i)
		budget--
	}
	return res
}

func shrink(state *models.FileTagState, fps []string, shadow Shadow) Result {
	res := Result{Kind: Shrink, Changed: true}
	budget := len(state.Fingerprints) - len(fps)
	i, k := 0, 0
	for budget > 0 && k < len(state.Fingerprints) {
		if i < len(fps) && state.Fingerprints[k] == fps[i] {
			i++
			k++
			continue
		}
		state.Fingerprints = slices.Delete(state.Fingerprints, k, k+1)
		state.Records = slices.Delete(state.Records, k, k+1)
		if shadow != nil {
			shadow.Remove(k)
		}
		res.Removed = append(res.Removed, k)
		budget--
	}
	return res
}

// check compares tag text index by index. Positions are ignored because any
// edit shifts the offsets of every later tag, which the next equal-length
// pass refreshes.
func check(state *models.FileTagState, current []models.TagOccurrence) Outcome {
	if len(state.Fingerprints) != len(current) {
		return Ambiguous
	}
	for i, occ := range current {
		fp := state.Fingerprints[i]
		if fp == occ.Fingerprint() {
			continue
		}
		if models.FingerprintTag(fp) != occ.Tag {
			return Ambiguous
		}
	}
	return Aligned
}
