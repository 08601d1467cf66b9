package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidCandidateTransition(t *testing.T) {
	tests := []struct {
		from, to CandidateStatus
		want     bool
	}{
		{"", CandidatePending, true},
		{"", CandidateApproved, false},
		{CandidatePending, CandidateApproved, true},
		{CandidatePending, CandidateRejected, true},
		{CandidatePending, CandidatePending, false},
		{CandidateApproved, CandidateRejected, false},
		{CandidateRejected, CandidatePending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidCandidateTransition(tt.from, tt.to), "%q -> %q", tt.from, tt.to)
	}
}

func TestCandidateStatus(t *testing.T) {
	assert.True(t, IsValidCandidateStatus(CandidatePending))
	assert.False(t, IsValidCandidateStatus("merged"))
	assert.False(t, CandidatePending.IsTerminal())
	assert.True(t, CandidateApproved.IsTerminal())
	assert.True(t, CandidateRejected.IsTerminal())
}
