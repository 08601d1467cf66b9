package types

// ValidCandidateStatuses contains every merge candidate status.
var ValidCandidateStatuses = []CandidateStatus{
	CandidatePending,
	CandidateApproved,
	CandidateRejected,
}

// IsValidCandidateStatus reports whether s is a known candidate status.
func IsValidCandidateStatus(s CandidateStatus) bool {
	for _, v := range ValidCandidateStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsValidCandidateTransition validates candidate status changes.
//
// Valid transitions:
//
//	(empty)  -> pending
//	pending  -> approved | rejected
//	approved -> (terminal)
//	rejected -> (terminal)
func IsValidCandidateTransition(current, next CandidateStatus) bool {
	switch current {
	case "":
		return next == CandidatePending
	case CandidatePending:
		return next == CandidateApproved || next == CandidateRejected
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed from s.
func (s CandidateStatus) IsTerminal() bool {
	return s == CandidateApproved || s == CandidateRejected
}
