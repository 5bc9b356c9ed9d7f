// internal/catalog/service.go
package catalog

import (
	"context"

	"libraryapi/internal/library"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, req AddBookRequest) (*BookDetails, error)
	GetBook(ctx context.Context, id int64) (*BookDetails, error)
	UpdateBookCopies(ctx context.Context, bookID int64, change int) (*BookDetails, error)
	ListBookCopies(ctx context.Context, status library.BookCopyStatus) ([]*library.BookCopy, error)
	AssignLocations(ctx context.Context, assignments []LocationAssignment) ([]*library.BookCopy, error)
}
