package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested book does not exist.
	ErrNotFound = errors.New("book not found")
	// ErrCategoryNotFound is returned when a requested category does not exist.
	ErrCategoryNotFound = errors.New("category not found")
)

// Book is a catalog entry. Price is authoritative for every cart and order
// calculation.
type Book struct {
	ID           int64
	Title        string
	Author       string
	Price        decimal.Decimal
	Rating       float64
	Description  string
	ImageURL     string
	CategoryID   *int64
	CategoryName string
}

// Defaults applied to books imported without these fields.
const (
	DefaultAuthor      = "unknown author"
	DefaultDescription = "description of the book"
	DefaultImageURL    = "https://images.pexels.com/photos/185764/pexels-photo-185764.jpeg?auto=compress&cs=tinysrgb&w=600"
)

// WithDefaults returns b with empty optional fields filled in.
func (b Book) WithDefaults() Book {
	if b.Author == "" {
		b.Author = DefaultAuthor
	}
	if b.Description == "" {
		b.Description = DefaultDescription
	}
	if b.ImageURL == "" {
		b.ImageURL = DefaultImageURL
	}
	return b
}

// Category groups books. A book belongs to at most one category.
type Category struct {
	ID   int64
	Name string
}

// Repository defines read operations for the book catalog.
type Repository interface {
	List(ctx context.Context) ([]Book, error)
	GetByID(ctx context.Context, id int64) (*Book, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Book, error)
	// Search returns one window of books whose title contains query
	// (case-insensitive) together with the total match count.
	Search(ctx context.Context, query string, limit, offset int) ([]Book, int, error)
	ListByCategory(ctx context.Context, categoryID int64) ([]Book, error)
	Categories(ctx context.Context) ([]Category, error)
	GetCategory(ctx context.Context, id int64) (*Category, error)
}

// PriceIndex maps book IDs to books for quick price lookups.
type PriceIndex map[int64]Book

// Index builds a PriceIndex from a slice of books.
func Index(books []Book) PriceIndex {
	idx := make(PriceIndex, len(books))
	for _, b := range books {
		idx[b.ID] = b
	}
	return idx
}
