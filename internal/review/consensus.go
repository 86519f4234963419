package review

import (
	"github.com/gaia-review/gaia/internal/datastore/entities"
)

// OutcomeKind is the result of evaluating a POI's annotations.
type OutcomeKind int

const (
	// Pending means fewer annotations than the quorum.
	Pending OutcomeKind = iota
	// Consensus means the quorum agreed on an animal class.
	Consensus
	// Dismissed means the quorum agreed on a non-animal class.
	Dismissed
	// NeedsAdjudication means the quorum was reached without agreement.
	NeedsAdjudication
)

func (k OutcomeKind) String() string {
	switch k {
	case Pending:
		return "pending"
	case Consensus:
		return "consensus"
	case Dismissed:
		return "dismissed"
	case NeedsAdjudication:
		return "needs_adjudication"
	default:
		return "unknown"
	}
}

// Outcome is what EvaluatePOI decided.
type Outcome struct {
	Kind           OutcomeKind
	Classification Classification // set for Consensus and Dismissed
	Species        *string        // common target when every reviewer named the same one
	Annotations    int
}

// EvaluatePOI applies the consensus rule to annotations. Only a unanimous
// quorum resolves a POI automatically; there is no majority vote.
func EvaluatePOI(annotations []entities.Annotation, quorum int) Outcome {
	out := Outcome{Kind: Pending, Annotations: len(annotations)}
	if quorum <= 0 || len(annotations) < quorum {
		return out
	}

	first := Classification(annotations[0].Classification)
	for i := range annotations[1:] {
		if Classification(annotations[i+1].Classification) != first {
			out.Kind = NeedsAdjudication
			return out
		}
	}

	out.Classification = first
	if !first.IsAnimal() {
		out.Kind = Dismissed
		return out
	}

	out.Kind = Consensus
	out.Species = commonTarget(annotations)
	return out
}

func commonTarget(annotations []entities.Annotation) *string {
	var target *string
	for i := range annotations {
		t := annotations[i].Target
		if t == nil {
			return nil
		}
		if target == nil {
			target = t
			continue
		}
		if *t != *target {
			return nil
		}
	}
	if target == nil {
		return nil
	}
	s := *target
	return &s
}

// CellOutcome is the state of a fishnet cell after a review.
type CellOutcome int

const (
	// CellPending means more reviews are needed.
	CellPending CellOutcome = iota
	// CellComplete means the quorum of independent reviews is reached.
	CellComplete
)

func (c CellOutcome) String() string {
	if c == CellComplete {
		return "complete"
	}
	return "pending"
}

// EvaluateCell reports whether reviews reach quorum. Cell review carries no
// label, so agreement is not required.
func EvaluateCell(reviews []entities.FishnetReview, quorum int) CellOutcome {
	if quorum > 0 && len(reviews) >= quorum {
		return CellComplete
	}
	return CellPending
}
