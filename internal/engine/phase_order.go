package engine

var PhaseOrder = []Phase{
	PhaseLobby,
	PhaseOpeningStatements,
	PhaseEvidencePresentation,
	PhaseWitnessExamination,
	PhaseClosingArguments,
	PhaseDeliberation,
	PhaseVerdict,
	PhaseCompleted,
}

// PhaseIndex returns the position of p in PhaseOrder, or -1.
func PhaseIndex(p Phase) int {
	for i, phase := range PhaseOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

// Next is the pure lookup: index + 1, clamped to completed.
func Next(p Phase) Phase {
	i := PhaseIndex(p)
	if i < 0 {
		return p
	}
	if i >= len(PhaseOrder)-1 {
		return PhaseCompleted
	}
	return PhaseOrder[i+1]
}

// Behind reports whether a is strictly earlier than b in the phase order.
func Behind(a, b Phase) bool {
	return PhaseIndex(a) < PhaseIndex(b)
}
