// internal/library/domain.go
package library

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Book is a catalog title. Only the fields circulation needs are modeled.
type Book struct {
	ID        int64     `json:"id" db:"id"`
	ISBN      string    `json:"isbn" db:"isbn"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// BookCopy is one physical, independently trackable instance of a Book.
type BookCopy struct {
	ID         int64          `json:"id" db:"id"`
	BookID     int64          `json:"book_id" db:"book_id"`
	Status     BookCopyStatus `json:"status" db:"status"`
	LocationID *int64         `json:"location_id,omitempty" db:"location_id"`
	Version    int            `json:"version" db:"version"`
}

// Member is a library patron. IDNumber is the national identity number
// librarians key loans by.
type Member struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	IDNumber     string       `json:"id_number" db:"id_number"`
	Name         string       `json:"name" db:"name"`
	LastName     string       `json:"last_name" db:"last_name"`
	Education    string       `json:"education,omitempty" db:"education"`
	Status       MemberStatus `json:"status" db:"status"`
	RegisteredAt time.Time    `json:"registered_at" db:"registered_at"`
}

// CanBorrow reports whether the member is allowed to take new loans.
func (m *Member) CanBorrow() bool {
	return m.Status == MemberActive
}

// Employee is a librarian who processes loans.
type Employee struct {
	ID       uuid.UUID      `json:"id" db:"id"`
	IDNumber string         `json:"id_number" db:"id_number"`
	Name     string         `json:"name" db:"name"`
	LastName string         `json:"last_name" db:"last_name"`
	Title    string         `json:"title" db:"title"`
	Shift    Shift          `json:"shift" db:"shift"`
	Status   EmployeeStatus `json:"status" db:"status"`
	HiredAt  time.Time      `json:"hired_at" db:"hired_at"`
}

// Credential holds a member's or employee's password hash.
type Credential struct {
	UserID       uuid.UUID `json:"-" db:"user_id"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Salt         string    `json:"-" db:"salt"`
	UpdatedAt    time.Time `json:"-" db:"updated_at"`
}

// Loan is one borrowing of a specific copy.
type Loan struct {
	ID         int64      `json:"id" db:"id"`
	MemberID   uuid.UUID  `json:"member_id" db:"member_id"`
	EmployeeID uuid.UUID  `json:"employee_id" db:"employee_id"`
	BookCopyID int64      `json:"book_copy_id" db:"book_copy_id"`
	CountDays  int        `json:"count_days" db:"count_days"`
	LoanDate   time.Time  `json:"loan_date" db:"loan_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Status     LoanStatus `json:"status" db:"status"`
	Version    int        `json:"version" db:"version"`
}

// IsOpen reports whether the loan still holds its copy.
func (l *Loan) IsOpen() bool {
	return l.Status == LoanBorrowed
}

// LoanTransaction is an append-only audit entry for a loan status change.
type LoanTransaction struct {
	ID         int64      `json:"id" db:"id"`
	LoanID     int64      `json:"loan_id" db:"loan_id"`
	EmployeeID uuid.UUID  `json:"employee_id" db:"employee_id"`
	Status     LoanStatus `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// Penalty is the late fee for one overdue return.
type Penalty struct {
	ID          int64           `json:"id" db:"id"`
	MemberID    uuid.UUID       `json:"member_id" db:"member_id"`
	DailyFee    decimal.Decimal `json:"daily_fee" db:"daily_fee"`
	StartDate   time.Time       `json:"start_date" db:"start_date"`
	EndDate     time.Time       `json:"end_date" db:"end_date"`
	OverdueDays int             `json:"overdue_days" db:"overdue_days"`
	Type        PenaltyType     `json:"type" db:"type"`
	TotalFee    decimal.Decimal `json:"total_fee" db:"total_fee"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
