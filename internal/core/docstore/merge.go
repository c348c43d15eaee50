package docstore

// Outcome describes what Merge did with an incoming replica.
type Outcome int

const (
	// OutcomeIgnored means the revision was already known.
	OutcomeIgnored Outcome = iota
	// OutcomeInserted means the document did not exist locally.
	OutcomeInserted
	// OutcomeFastForward means the incoming revision descends from every local leaf.
	OutcomeFastForward
	// OutcomeConflict means the document now has more than one leaf.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeFastForward:
		return "fast_forward"
	case OutcomeConflict:
		return "conflict"
	default:
		return "ignored"
	}
}

// Wins reports whether leaf a takes precedence over leaf b.
// Live leaves beat tombstones, then higher generation, then later update
// time, then the lexicographically greater revision.
func Wins(a, b Leaf) bool {
	if a.Deleted != b.Deleted {
		return !a.Deleted
	}
	ga, gb := a.Rev.Generation(), b.Rev.Generation()
	if ga != gb {
		return ga > gb
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Rev > b.Rev
}

// Merge folds incoming into current and returns the resulting envelope.
// It never mutates current. Seq is left for the caller to assign.
func Merge(current *Envelope, incoming Replica) (*Envelope, Outcome) {
	if current == nil {
		return &Envelope{ID: incoming.ID, Leaf: cloneLeaf(incoming.Leaf)}, OutcomeInserted
	}
	if current.Knows(incoming.Rev) {
		return current, OutcomeIgnored
	}

	next := current.Clone()
	kept := make([]Leaf, 0, 1+len(next.Conflicts))
	for _, l := range next.Leaves() {
		if incoming.Descends(l.Rev) {
			continue
		}
		kept = append(kept, l)
	}
	kept = append(kept, cloneLeaf(incoming.Leaf))

	winner := 0
	for i := 1; i < len(kept); i++ {
		if Wins(kept[i], kept[winner]) {
			winner = i
		}
	}

	next.Leaf = kept[winner]
	next.Conflicts = nil
	for i, l := range kept {
		if i != winner {
			next.Conflicts = append(next.Conflicts, l)
		}
	}

	if len(next.Conflicts) == 0 {
		return next, OutcomeFastForward
	}
	return next, OutcomeConflict
}
