// internal/store/postgres/tx.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
)

const (
	tableBooks            = "books"
	tableBookCopies       = "book_copies"
	tableMembers          = "members"
	tableEmployees        = "employees"
	tableCredentials      = "credentials"
	tableLoans            = "loans"
	tableLoanTransactions = "loan_transactions"
	tablePenalties        = "penalties"
)

var (
	bookColumns     = []any{"id", "isbn", "title", "created_at"}
	copyColumns     = []any{"id", "book_id", "status", "location_id", "version"}
	memberColumns   = []any{"id", "id_number", "name", "last_name", "education", "status", "registered_at"}
	employeeColumns = []any{"id", "id_number", "name", "last_name", "title", "shift", "status", "hired_at"}
	loanColumns     = []any{"id", "member_id", "employee_id", "book_copy_id", "count_days", "loan_date", "due_date", "return_date", "status", "version"}
	loanTxColumns   = []any{"id", "loan_id", "employee_id", "status", "created_at"}
	penaltyColumns  = []any{"id", "member_id", "daily_fee", "start_date", "end_date", "overdue_days", "type", "total_fee", "created_at"}
)

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

// txStore implements library.Store inside one database transaction.
type txStore struct {
	tx      *sqlx.Tx
	builder goqu.DialectWrapper
	now     func() time.Time
}

var _ library.Store = (*txStore)(nil)

func (t *txStore) get(ctx context.Context, dest any, ds sqlBuilder, what string) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	return translate(t.tx.GetContext(ctx, dest, query, args...), what)
}

func (t *txStore) list(ctx context.Context, dest any, ds sqlBuilder, what string) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s query: %w", what, err)
	}
	return translate(t.tx.SelectContext(ctx, dest, query, args...), what)
}

func (t *txStore) exec(ctx context.Context, ds sqlBuilder, what string) (int64, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build %s statement: %w", what, err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translate(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rows affected: %w", what, err)
	}
	return n, nil
}

func (t *txStore) insertReturning(ctx context.Context, ds sqlBuilder, what string, dest ...any) error {
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s insert: %w", what, err)
	}
	return translate(t.tx.QueryRowxContext(ctx, query, args...).Scan(dest...), what)
}

// versionedUpdate applies ds, which must be guarded by id and version, and
// tells a missing row apart from a stale one.
func (t *txStore) versionedUpdate(ctx context.Context, ds sqlBuilder, table string, id int64, what string) error {
	n, err := t.exec(ctx, ds, what)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var exists bool
	probe := t.builder.From(table).Prepared(true).
		Select(goqu.L("COUNT(*) > 0")).
		Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &exists, probe, what); err != nil {
		return err
	}
	if !exists {
		return apperror.NotFound("%s with ID %d not found", what, id)
	}
	return apperror.Conflict(nil, "%s %d was modified concurrently", what, id)
}

func (t *txStore) stamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return t.now().UTC()
	}
	return ts
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func (t *txStore) CreateBook(ctx context.Context, book *library.Book) error {
	book.CreatedAt = t.stamp(book.CreatedAt)
	ds := t.builder.Insert(tableBooks).Prepared(true).
		Rows(goqu.Record{"isbn": book.ISBN, "title": book.Title, "created_at": book.CreatedAt}).
		Returning("id")
	return t.insertReturning(ctx, ds, "book", &book.ID)
}

func (t *txStore) FindBook(ctx context.Context, id int64) (*library.Book, error) {
	var book library.Book
	ds := t.builder.From(tableBooks).Prepared(true).Select(bookColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &book, ds, fmt.Sprintf("book with ID %d", id)); err != nil {
		return nil, err
	}
	return &book, nil
}

func (t *txStore) CreateBookCopy(ctx context.Context, bookCopy *library.BookCopy) error {
	if _, err := t.FindBook(ctx, bookCopy.BookID); err != nil {
		return err
	}
	ds := t.builder.Insert(tableBookCopies).Prepared(true).
		Rows(goqu.Record{
			"book_id":     bookCopy.BookID,
			"status":      string(bookCopy.Status),
			"location_id": nullInt64(bookCopy.LocationID),
			"version":     1,
		}).
		Returning("id", "version")
	return t.insertReturning(ctx, ds, "book copy", &bookCopy.ID, &bookCopy.Version)
}

func (t *txStore) FindBookCopy(ctx context.Context, id int64) (*library.BookCopy, error) {
	var bookCopy library.BookCopy
	ds := t.builder.From(tableBookCopies).Prepared(true).Select(copyColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &bookCopy, ds, fmt.Sprintf("book copy with ID %d", id)); err != nil {
		return nil, err
	}
	return &bookCopy, nil
}

func (t *txStore) ListBookCopies(ctx context.Context, filter library.BookCopyFilter) ([]*library.BookCopy, error) {
	where := goqu.Ex{}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}
	if filter.BookID != 0 {
		where["book_id"] = filter.BookID
	}
	if filter.LocationID != 0 {
		where["location_id"] = filter.LocationID
	}
	if len(filter.IDs) > 0 {
		where["id"] = filter.IDs
	}

	copies := make([]*library.BookCopy, 0)
	ds := t.builder.From(tableBookCopies).Prepared(true).Select(copyColumns...).Order(goqu.C("id").Asc())
	if len(where) > 0 {
		ds = ds.Where(where)
	}
	if err := t.list(ctx, &copies, ds, "book copies"); err != nil {
		return nil, err
	}
	return copies, nil
}

func (t *txStore) UpdateBookCopy(ctx context.Context, bookCopy *library.BookCopy) error {
	ds := t.builder.Update(tableBookCopies).Prepared(true).
		Set(goqu.Record{
			"status":      string(bookCopy.Status),
			"location_id": nullInt64(bookCopy.LocationID),
			"version":     goqu.L("version + 1"),
		}).
		Where(goqu.C("id").Eq(bookCopy.ID), goqu.C("version").Eq(bookCopy.Version))
	if err := t.versionedUpdate(ctx, ds, tableBookCopies, bookCopy.ID, "book copy"); err != nil {
		return err
	}
	bookCopy.Version++
	return nil
}

func (t *txStore) CreateMember(ctx context.Context, member *library.Member) error {
	if member.ID == uuid.Nil {
		member.ID = uuid.New()
	}
	member.RegisteredAt = t.stamp(member.RegisteredAt)
	ds := t.builder.Insert(tableMembers).Prepared(true).Rows(goqu.Record{
		"id":            member.ID,
		"id_number":     member.IDNumber,
		"name":          member.Name,
		"last_name":     member.LastName,
		"education":     member.Education,
		"status":        string(member.Status),
		"registered_at": member.RegisteredAt,
	})
	_, err := t.exec(ctx, ds, fmt.Sprintf("member with ID number %s", member.IDNumber))
	return err
}

func (t *txStore) FindMember(ctx context.Context, id uuid.UUID) (*library.Member, error) {
	var member library.Member
	ds := t.builder.From(tableMembers).Prepared(true).Select(memberColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &member, ds, fmt.Sprintf("member with ID %s", id)); err != nil {
		return nil, err
	}
	return &member, nil
}

func (t *txStore) FindMemberByIDNumber(ctx context.Context, idNumber string) (*library.Member, error) {
	var member library.Member
	ds := t.builder.From(tableMembers).Prepared(true).Select(memberColumns...).Where(goqu.C("id_number").Eq(idNumber))
	if err := t.get(ctx, &member, ds, "member"); err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, apperror.NotFound("member with the given ID number does not exist")
		}
		return nil, err
	}
	return &member, nil
}

func (t *txStore) UpdateMember(ctx context.Context, member *library.Member) error {
	ds := t.builder.Update(tableMembers).Prepared(true).
		Set(goqu.Record{
			"name":      member.Name,
			"last_name": member.LastName,
			"education": member.Education,
			"status":    string(member.Status),
		}).
		Where(goqu.C("id").Eq(member.ID))
	n, err := t.exec(ctx, ds, "member")
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("member with ID %s not found", member.ID)
	}
	return nil
}

func (t *txStore) CreateEmployee(ctx context.Context, employee *library.Employee) error {
	if employee.ID == uuid.Nil {
		employee.ID = uuid.New()
	}
	employee.HiredAt = t.stamp(employee.HiredAt)
	ds := t.builder.Insert(tableEmployees).Prepared(true).Rows(goqu.Record{
		"id":        employee.ID,
		"id_number": employee.IDNumber,
		"name":      employee.Name,
		"last_name": employee.LastName,
		"title":     employee.Title,
		"shift":     string(employee.Shift),
		"status":    string(employee.Status),
		"hired_at":  employee.HiredAt,
	})
	_, err := t.exec(ctx, ds, fmt.Sprintf("employee with ID number %s", employee.IDNumber))
	return err
}

func (t *txStore) FindEmployee(ctx context.Context, id uuid.UUID) (*library.Employee, error) {
	var employee library.Employee
	ds := t.builder.From(tableEmployees).Prepared(true).Select(employeeColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &employee, ds, fmt.Sprintf("employee with ID %s", id)); err != nil {
		return nil, err
	}
	return &employee, nil
}

func (t *txStore) UpdateEmployee(ctx context.Context, employee *library.Employee) error {
	ds := t.builder.Update(tableEmployees).Prepared(true).
		Set(goqu.Record{
			"name":      employee.Name,
			"last_name": employee.LastName,
			"title":     employee.Title,
			"shift":     string(employee.Shift),
			"status":    string(employee.Status),
		}).
		Where(goqu.C("id").Eq(employee.ID))
	n, err := t.exec(ctx, ds, "employee")
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("employee with ID %s not found", employee.ID)
	}
	return nil
}

func (t *txStore) SaveCredential(ctx context.Context, credential *library.Credential) error {
	credential.UpdatedAt = t.now().UTC()
	ds := t.builder.Insert(tableCredentials).Prepared(true).
		Rows(goqu.Record{
			"user_id":       credential.UserID,
			"password_hash": credential.PasswordHash,
			"salt":          credential.Salt,
			"updated_at":    credential.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate("user_id", goqu.Record{
			"password_hash": goqu.L("EXCLUDED.password_hash"),
			"salt":          goqu.L("EXCLUDED.salt"),
			"updated_at":    goqu.L("EXCLUDED.updated_at"),
		}))
	_, err := t.exec(ctx, ds, "credentials")
	return err
}

func (t *txStore) FindCredential(ctx context.Context, userID uuid.UUID) (*library.Credential, error) {
	var credential library.Credential
	ds := t.builder.From(tableCredentials).Prepared(true).
		Select("user_id", "password_hash", "salt", "updated_at").
		Where(goqu.C("user_id").Eq(userID))
	if err := t.get(ctx, &credential, ds, fmt.Sprintf("credentials for user %s", userID)); err != nil {
		return nil, err
	}
	return &credential, nil
}

func (t *txStore) CreateLoan(ctx context.Context, loan *library.Loan) error {
	ds := t.builder.Insert(tableLoans).Prepared(true).
		Rows(goqu.Record{
			"member_id":    loan.MemberID,
			"employee_id":  loan.EmployeeID,
			"book_copy_id": loan.BookCopyID,
			"count_days":   loan.CountDays,
			"loan_date":    loan.LoanDate,
			"due_date":     loan.DueDate,
			"return_date":  nullTime(loan.ReturnDate),
			"status":       string(loan.Status),
			"version":      1,
		}).
		Returning("id", "version")
	return t.insertReturning(ctx, ds, "loan", &loan.ID, &loan.Version)
}

func (t *txStore) FindLoan(ctx context.Context, id int64) (*library.Loan, error) {
	var loan library.Loan
	ds := t.builder.From(tableLoans).Prepared(true).Select(loanColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &loan, ds, fmt.Sprintf("loan with ID %d", id)); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (t *txStore) ListLoans(ctx context.Context, filter library.LoanFilter) ([]*library.Loan, error) {
	where := goqu.Ex{}
	if filter.MemberID != uuid.Nil {
		where["member_id"] = filter.MemberID
	}
	if filter.EmployeeID != uuid.Nil {
		where["employee_id"] = filter.EmployeeID
	}
	if filter.BookCopyID != 0 {
		where["book_copy_id"] = filter.BookCopyID
	}
	if filter.Status != "" {
		where["status"] = string(filter.Status)
	}

	loans := make([]*library.Loan, 0)
	ds := t.builder.From(tableLoans).Prepared(true).Select(loanColumns...).Order(goqu.C("id").Asc())
	if len(where) > 0 {
		ds = ds.Where(where)
	}
	if err := t.list(ctx, &loans, ds, "loans"); err != nil {
		return nil, err
	}
	return loans, nil
}

func (t *txStore) UpdateLoan(ctx context.Context, loan *library.Loan) error {
	ds := t.builder.Update(tableLoans).Prepared(true).
		Set(goqu.Record{
			"return_date": nullTime(loan.ReturnDate),
			"status":      string(loan.Status),
			"version":     goqu.L("version + 1"),
		}).
		Where(goqu.C("id").Eq(loan.ID), goqu.C("version").Eq(loan.Version))
	if err := t.versionedUpdate(ctx, ds, tableLoans, loan.ID, "loan"); err != nil {
		return err
	}
	loan.Version++
	return nil
}

func (t *txStore) CreateLoanTransaction(ctx context.Context, loanTx *library.LoanTransaction) error {
	loanTx.CreatedAt = t.stamp(loanTx.CreatedAt)
	ds := t.builder.Insert(tableLoanTransactions).Prepared(true).
		Rows(goqu.Record{
			"loan_id":     loanTx.LoanID,
			"employee_id": loanTx.EmployeeID,
			"status":      string(loanTx.Status),
			"created_at":  loanTx.CreatedAt,
		}).
		Returning("id")
	return t.insertReturning(ctx, ds, "loan transaction", &loanTx.ID)
}

func (t *txStore) ListLoanTransactions(ctx context.Context, loanID int64) ([]*library.LoanTransaction, error) {
	txs := make([]*library.LoanTransaction, 0)
	ds := t.builder.From(tableLoanTransactions).Prepared(true).
		Select(loanTxColumns...).
		Where(goqu.C("loan_id").Eq(loanID)).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	if err := t.list(ctx, &txs, ds, "loan transactions"); err != nil {
		return nil, err
	}
	return txs, nil
}

func (t *txStore) CreatePenalty(ctx context.Context, penalty *library.Penalty) error {
	penalty.CreatedAt = t.stamp(penalty.CreatedAt)
	ds := t.builder.Insert(tablePenalties).Prepared(true).
		Rows(goqu.Record{
			"member_id":    penalty.MemberID,
			"daily_fee":    penalty.DailyFee,
			"start_date":   penalty.StartDate,
			"end_date":     penalty.EndDate,
			"overdue_days": penalty.OverdueDays,
			"type":         string(penalty.Type),
			"total_fee":    penalty.TotalFee,
			"created_at":   penalty.CreatedAt,
		}).
		Returning("id")
	return t.insertReturning(ctx, ds, "penalty", &penalty.ID)
}

func (t *txStore) FindPenalty(ctx context.Context, id int64) (*library.Penalty, error) {
	var penalty library.Penalty
	ds := t.builder.From(tablePenalties).Prepared(true).Select(penaltyColumns...).Where(goqu.C("id").Eq(id))
	if err := t.get(ctx, &penalty, ds, fmt.Sprintf("penalty with ID %d", id)); err != nil {
		return nil, err
	}
	return &penalty, nil
}

func (t *txStore) ListPenalties(ctx context.Context, memberID uuid.UUID) ([]*library.Penalty, error) {
	penalties := make([]*library.Penalty, 0)
	ds := t.builder.From(tablePenalties).Prepared(true).
		Select(penaltyColumns...).
		Order(goqu.C("id").Asc())
	if memberID != uuid.Nil {
		ds = ds.Where(goqu.C("member_id").Eq(memberID))
	}
	if err := t.list(ctx, &penalties, ds, "penalties"); err != nil {
		return nil, err
	}
	return penalties, nil
}
