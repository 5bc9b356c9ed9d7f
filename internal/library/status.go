// internal/library/status.go
package library

import (
	"libraryapi/internal/apperror"
)

// LoanStatus is the lifecycle state of a loan. Borrowed is initial, Returned is terminal.
type LoanStatus string

const (
	LoanBorrowed LoanStatus = "Borrowed"
	LoanReturned LoanStatus = "Returned"
)

func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(s) {
	case LoanBorrowed, LoanReturned:
		return LoanStatus(s), nil
	}
	return "", apperror.Validation("unknown loan status %q", s)
}

func (s LoanStatus) String() string { return string(s) }

func (s *LoanStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseLoanStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// BookCopyStatus is the availability of a physical copy.
type BookCopyStatus string

const (
	CopyActive   BookCopyStatus = "Active"
	CopyBorrowed BookCopyStatus = "Borrowed"
	CopyInActive BookCopyStatus = "InActive"
)

func ParseBookCopyStatus(s string) (BookCopyStatus, error) {
	switch BookCopyStatus(s) {
	case CopyActive, CopyBorrowed, CopyInActive:
		return BookCopyStatus(s), nil
	}
	return "", apperror.Validation("unknown book copy status %q", s)
}

func (s BookCopyStatus) String() string { return string(s) }

func (s *BookCopyStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseBookCopyStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// PenaltyType classifies overdue severity. PenaltyNone is never persisted.
type PenaltyType string

const (
	PenaltyNone     PenaltyType = "None"
	PenaltyMinor    PenaltyType = "Minor"
	PenaltyModerate PenaltyType = "Moderate"
	PenaltySevere   PenaltyType = "Severe"
)

func ParsePenaltyType(s string) (PenaltyType, error) {
	switch PenaltyType(s) {
	case PenaltyNone, PenaltyMinor, PenaltyModerate, PenaltySevere:
		return PenaltyType(s), nil
	}
	return "", apperror.Validation("unknown penalty type %q", s)
}

func (t PenaltyType) String() string { return string(t) }

// Severity orders penalty types; higher is more severe.
func (t PenaltyType) Severity() int {
	switch t {
	case PenaltyMinor:
		return 1
	case PenaltyModerate:
		return 2
	case PenaltySevere:
		return 3
	default:
		return 0
	}
}

type MemberStatus string

const (
	MemberActive  MemberStatus = "Active"
	MemberBlocked MemberStatus = "Blocked"
	MemberRemoved MemberStatus = "Removed"
)

func ParseMemberStatus(s string) (MemberStatus, error) {
	switch MemberStatus(s) {
	case MemberActive, MemberBlocked, MemberRemoved:
		return MemberStatus(s), nil
	}
	return "", apperror.Validation("unknown member status %q", s)
}

func (s MemberStatus) String() string { return string(s) }

type EmployeeStatus string

const (
	EmployeeWorking EmployeeStatus = "Working"
	EmployeeQuit    EmployeeStatus = "Quit"
)

func ParseEmployeeStatus(s string) (EmployeeStatus, error) {
	switch EmployeeStatus(s) {
	case EmployeeWorking, EmployeeQuit:
		return EmployeeStatus(s), nil
	}
	return "", apperror.Validation("unknown employee status %q", s)
}

func (s EmployeeStatus) String() string { return string(s) }

type Shift string

const (
	ShiftMorning Shift = "Morning"
	ShiftEvening Shift = "Evening"
	ShiftNight   Shift = "Night"
)

func ParseShift(s string) (Shift, error) {
	switch Shift(s) {
	case ShiftMorning, ShiftEvening, ShiftNight:
		return Shift(s), nil
	case "":
		return ShiftMorning, nil
	}
	return "", apperror.Validation("unknown shift %q", s)
}
