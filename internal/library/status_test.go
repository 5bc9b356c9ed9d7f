package library

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryapi/internal/apperror"
)

func TestParseLoanStatus(t *testing.T) {
	testCases := []struct {
		input    string
		expected LoanStatus
		valid    bool
	}{
		{"Borrowed", LoanBorrowed, true},
		{"Returned", LoanReturned, true},
		{"borrowed", "", false},
		{"Lost", "", false},
		{"", "", false},
	}
	for _, tt := range testCases {
		status, err := ParseLoanStatus(tt.input)
		if !tt.valid {
			assert.Equal(t, apperror.KindValidation, apperror.KindOf(err), tt.input)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, status)
	}
}

func TestLoanStatusRejectsUnknownJSON(t *testing.T) {
	var req struct {
		Status LoanStatus `json:"loan_status"`
	}

	err := json.Unmarshal([]byte(`{"loan_status":"Overdue"}`), &req)
	assert.Error(t, err)

	require.NoError(t, json.Unmarshal([]byte(`{"loan_status":"Returned"}`), &req))
	assert.Equal(t, LoanReturned, req.Status)
}

func TestParseBookCopyStatus(t *testing.T) {
	for _, s := range []string{"Active", "Borrowed", "InActive"} {
		status, err := ParseBookCopyStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, status.String())
	}
	_, err := ParseBookCopyStatus("Retired")
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestPenaltyTypeSeverityIsOrdered(t *testing.T) {
	assert.Less(t, PenaltyNone.Severity(), PenaltyMinor.Severity())
	assert.Less(t, PenaltyMinor.Severity(), PenaltyModerate.Severity())
	assert.Less(t, PenaltyModerate.Severity(), PenaltySevere.Severity())
}

func TestParseShiftDefaultsToMorning(t *testing.T) {
	shift, err := ParseShift("")
	require.NoError(t, err)
	assert.Equal(t, ShiftMorning, shift)

	_, err = ParseShift("Weekend")
	assert.Error(t, err)
}

func TestMemberCanBorrow(t *testing.T) {
	assert.True(t, (&Member{Status: MemberActive}).CanBorrow())
	assert.False(t, (&Member{Status: MemberBlocked}).CanBorrow())
	assert.False(t, (&Member{Status: MemberRemoved}).CanBorrow())
}
