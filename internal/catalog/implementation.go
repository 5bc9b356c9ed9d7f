// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libraryapi/internal/apperror"
	"libraryapi/internal/library"
	"libraryapi/internal/telemetry"
)

const (
	defaultShelfCapacity = 50
	maxCopiesPerRequest  = 500
)

// service implements the Service interface.
type service struct {
	uow           library.UnitOfWork
	shelfCapacity int
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewService creates a new catalog service instance. A non-positive
// shelfCapacity selects the default of 50 copies per location.
func NewService(uow library.UnitOfWork, shelfCapacity int, logger *slog.Logger) Service {
	if shelfCapacity <= 0 {
		shelfCapacity = defaultShelfCapacity
	}
	return &service{
		uow:           uow,
		shelfCapacity: shelfCapacity,
		logger:        logger.With("component", "catalog"),
		tracer:        telemetry.Tracer("catalog"),
	}
}

// AddBook creates a book and its initial copies.
func (s *service) AddBook(ctx context.Context, req AddBookRequest) (*BookDetails, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book",
		trace.WithAttributes(attribute.String("book.isbn", req.ISBN), attribute.Int("book.copies", req.Copies)),
	)
	defer span.End()

	fields := make(map[string]string)
	if strings.TrimSpace(req.ISBN) == "" {
		fields["isbn"] = "is required"
	}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "is required"
	}
	if req.Copies < 0 || req.Copies > maxCopiesPerRequest {
		fields["copies"] = fmt.Sprintf("must be between 0 and %d", maxCopiesPerRequest)
	}
	if len(fields) > 0 {
		return nil, apperror.ValidationFields(fields)
	}

	var details *BookDetails
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		book := &library.Book{ISBN: strings.TrimSpace(req.ISBN), Title: strings.TrimSpace(req.Title)}
		if err := store.CreateBook(ctx, book); err != nil {
			return err
		}
		if err := addCopies(ctx, store, book.ID, req.Copies); err != nil {
			return err
		}
		var err error
		details, err = loadDetails(ctx, store, book.ID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add book: %w", err)
	}

	s.logger.InfoContext(ctx, "book added", "book_id", details.ID, "isbn", details.ISBN, "copies", req.Copies)
	return details, nil
}

func (s *service) GetBook(ctx context.Context, id int64) (*BookDetails, error) {
	var details *BookDetails
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		details, err = loadDetails(ctx, store, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return details, nil
}

// UpdateBookCopies adds change Active copies when positive and retires
// -change Active copies to InActive when negative. Borrowed copies are never
// retired.
func (s *service) UpdateBookCopies(ctx context.Context, bookID int64, change int) (*BookDetails, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.update_book_copies",
		trace.WithAttributes(attribute.Int64("book.id", bookID), attribute.Int("copies.change", change)),
	)
	defer span.End()

	if change < -maxCopiesPerRequest || change > maxCopiesPerRequest {
		return nil, apperror.ValidationFields(map[string]string{
			"change": fmt.Sprintf("must be between %d and %d", -maxCopiesPerRequest, maxCopiesPerRequest),
		})
	}

	var details *BookDetails
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		if _, err := store.FindBook(ctx, bookID); err != nil {
			return err
		}

		active, err := store.ListBookCopies(ctx, library.BookCopyFilter{BookID: bookID, Status: library.CopyActive})
		if err != nil {
			return err
		}
		if len(active)+change < 0 {
			return apperror.InvalidOperation("not enough copies available: book %d has %d active copies", bookID, len(active))
		}

		switch {
		case change > 0:
			if err := addCopies(ctx, store, bookID, change); err != nil {
				return err
			}
		case change < 0:
			for _, bookCopy := range active[:-change] {
				bookCopy.Status = library.CopyInActive
				if err := store.UpdateBookCopy(ctx, bookCopy); err != nil {
					return fmt.Errorf("retire copy %d: %w", bookCopy.ID, err)
				}
			}
		}

		details, err = loadDetails(ctx, store, bookID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update book copies: %w", err)
	}

	s.logger.InfoContext(ctx, "book copies updated", "book_id", bookID, "change", change, "active", details.ActiveCount)
	return details, nil
}

// ListBookCopies lists copies in the given status, or all copies when status
// is empty.
func (s *service) ListBookCopies(ctx context.Context, status library.BookCopyStatus) ([]*library.BookCopy, error) {
	if status != "" {
		if _, err := library.ParseBookCopyStatus(string(status)); err != nil {
			return nil, err
		}
	}

	var copies []*library.BookCopy
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		var err error
		copies, err = store.ListBookCopies(ctx, library.BookCopyFilter{Status: status})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list book copies: %w", err)
	}
	return copies, nil
}

// AssignLocations shelves copies. A shelf holds at most shelfCapacity Active
// copies; the whole batch is rejected if any shelf would overflow.
func (s *service) AssignLocations(ctx context.Context, assignments []LocationAssignment) ([]*library.BookCopy, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.assign_locations",
		trace.WithAttributes(attribute.Int("assignments", len(assignments))),
	)
	defer span.End()

	if len(assignments) == 0 {
		return nil, apperror.Validation("at least one location assignment is required")
	}
	fields := make(map[string]string)
	for i, a := range assignments {
		if a.BookCopyID <= 0 {
			fields[fmt.Sprintf("[%d].bookCopyId", i)] = "must be a positive identifier"
		}
		if a.LocationID <= 0 {
			fields[fmt.Sprintf("[%d].locationId", i)] = "must be a positive identifier"
		}
	}
	if len(fields) > 0 {
		return nil, apperror.ValidationFields(fields)
	}

	var placed []*library.BookCopy
	err := s.uow.WithinTx(ctx, func(ctx context.Context, store library.Store) error {
		occupancy := make(map[int64]int)
		for _, a := range assignments {
			if _, ok := occupancy[a.LocationID]; ok {
				continue
			}
			shelved, err := store.ListBookCopies(ctx, library.BookCopyFilter{LocationID: a.LocationID, Status: library.CopyActive})
			if err != nil {
				return err
			}
			occupancy[a.LocationID] = len(shelved)
		}

		placed = make([]*library.BookCopy, 0, len(assignments))
		for _, a := range assignments {
			bookCopy, err := store.FindBookCopy(ctx, a.BookCopyID)
			if err != nil {
				return err
			}
			if bookCopy.LocationID != nil && *bookCopy.LocationID == a.LocationID {
				placed = append(placed, bookCopy)
				continue
			}

			if bookCopy.Status == library.CopyActive {
				if occupancy[a.LocationID] >= s.shelfCapacity {
					return apperror.InvalidOperation("the shelf at location %d already has %d books, no more can be added", a.LocationID, s.shelfCapacity)
				}
				occupancy[a.LocationID]++
				if bookCopy.LocationID != nil {
					occupancy[*bookCopy.LocationID]--
				}
			}

			location := a.LocationID
			bookCopy.LocationID = &location
			if err := store.UpdateBookCopy(ctx, bookCopy); err != nil {
				return fmt.Errorf("place copy %d: %w", bookCopy.ID, err)
			}
			placed = append(placed, bookCopy)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("assign locations: %w", err)
	}

	s.logger.InfoContext(ctx, "book copies placed", "count", len(placed))
	return placed, nil
}

func addCopies(ctx context.Context, store library.Store, bookID int64, n int) error {
	for i := 0; i < n; i++ {
		if err := store.CreateBookCopy(ctx, &library.BookCopy{BookID: bookID, Status: library.CopyActive}); err != nil {
			return fmt.Errorf("create copy: %w", err)
		}
	}
	return nil
}

func loadDetails(ctx context.Context, store library.Store, bookID int64) (*BookDetails, error) {
	book, err := store.FindBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	copies, err := store.ListBookCopies(ctx, library.BookCopyFilter{BookID: bookID})
	if err != nil {
		return nil, err
	}

	details := &BookDetails{Book: book, Copies: copies}
	for _, c := range copies {
		if c.Status == library.CopyActive {
			details.ActiveCount++
		}
	}
	return details, nil
}
