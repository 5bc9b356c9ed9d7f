// internal/catalog/domain.go
package catalog

import (
	"libraryapi/internal/library"
)

// AddBookRequest registers a title together with its initial Active copies.
type AddBookRequest struct {
	ISBN   string `json:"isbn"`
	Title  string `json:"title"`
	Copies int    `json:"copies"`
}

// BookDetails is a book with every copy it owns.
type BookDetails struct {
	*library.Book
	Copies      []*library.BookCopy `json:"copies"`
	ActiveCount int                 `json:"active_copies"`
}

// LocationAssignment places a copy on a shelf.
type LocationAssignment struct {
	BookCopyID int64 `json:"bookCopyId"`
	LocationID int64 `json:"locationId"`
}
