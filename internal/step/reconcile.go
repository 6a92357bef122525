package step

// ChangeKind describes what a reconciliation pass did to a step.
type ChangeKind string

const (
	// Added means the step was appended to the list.
	Added ChangeKind = "added"
	// ContentUpdated means the step's code grew.
	ContentUpdated ChangeKind = "content_updated"
	// Closed means the step's closing tag was seen for the first time.
	Closed ChangeKind = "closed"
)

// Change records one effect of Reconcile. Before is the step's effective
// status prior to the change (empty for Added).
type Change struct {
	Kind   ChangeKind
	Step   *BuildStep
	Before Status
}

// Reconcile merges a fresh parse of the buffer into the current step list.
//
// Steps are matched by Key. Matched steps keep their ID and driver state;
// their code is replaced only when the new code is at least as long, and
// their parse status only ever moves forward to Completed. Unmatched
// parsed steps are appended with a new ID and ExecStatus Pending. No step
// is ever removed, so a momentarily malformed parse cannot lose progress.
//
// prev is updated in place; the returned slice may share its backing array.
func Reconcile(prev []*BuildStep, parsed []BuildStep) ([]*BuildStep, []Change) {
	index := make(map[Key]*BuildStep, len(prev))
	for _, s := range prev {
		index[s.Key()] = s
	}

	var changes []Change
	out := prev
	for i := range parsed {
		p := &parsed[i]
		existing, ok := index[p.Key()]
		if !ok {
			s := p.Clone()
			s.ID = NewID()
			s.ExecStatus = Pending
			if s.ParseStatus == "" {
				s.ParseStatus = InProgress
			}
			index[s.Key()] = s
			out = append(out, s)
			changes = append(changes, Change{Kind: Added, Step: s})
			continue
		}

		before := existing.Status()
		if p.Code != existing.Code && len(p.Code) >= len(existing.Code) {
			existing.Code = p.Code
			if existing.Type == RunScript {
				existing.Description = p.Code
			}
			changes = append(changes, Change{Kind: ContentUpdated, Step: existing, Before: before})
		}
		if p.Closed() && !existing.Closed() {
			existing.ParseStatus = Completed
			changes = append(changes, Change{Kind: Closed, Step: existing, Before: before})
		}
	}
	return out, changes
}
