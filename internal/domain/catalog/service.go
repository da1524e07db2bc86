package catalog

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
)

// PageSize is the fixed number of books per search results page.
const PageSize = 4

// AllBooksLabel names the unfiltered category view.
const AllBooksLabel = "All Books"

// Page is one window of a paginated book listing.
type Page struct {
	Books      []Book
	Query      string
	Number     int
	TotalPages int
	Total      int
}

// HasPrevious reports whether a page precedes this one.
func (p Page) HasPrevious() bool { return p.Number > 1 }

// HasNext reports whether a page follows this one.
func (p Page) HasNext() bool { return p.Number < p.TotalPages }

// CategoryView is the result of browsing by category.
type CategoryView struct {
	Books      []Book
	Categories []Category
	// Selected is nil for the unfiltered view.
	Selected *Category
	Label    string
}

// Service implements catalog browsing.
type Service struct {
	books Repository
}

// NewService creates a catalog Service backed by the given repository.
func NewService(books Repository) *Service {
	return &Service{books: books}
}

// Home returns the full catalog.
func (s *Service) Home(ctx context.Context) ([]Book, error) {
	books, err := s.books.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list books")
	}
	return books, nil
}

// Book returns a single book.
func (s *Service) Book(ctx context.Context, id int64) (*Book, error) {
	b, err := s.books.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Search filters the catalog by a case-insensitive title substring and
// returns the requested page. An empty query matches every book. The raw page
// value is parsed leniently: a non-integer selects the first page, and zero,
// negative or past-the-end numbers select the last page.
func (s *Service) Search(ctx context.Context, query, rawPage string) (*Page, error) {
	query = strings.TrimSpace(query)
	number := parsePage(rawPage)

	// The first query only learns the total; clamp and refetch when the
	// requested page is out of range.
	books, total, err := s.books.Search(ctx, query, PageSize, (number-1)*PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "search books")
	}

	pages := totalPages(total)
	if number > pages {
		number = pages
		books, total, err = s.books.Search(ctx, query, PageSize, (number-1)*PageSize)
		if err != nil {
			return nil, errors.Wrap(err, "search books")
		}
	}
	if books == nil {
		books = []Book{}
	}

	return &Page{
		Books:      books,
		Query:      query,
		Number:     number,
		TotalPages: pages,
		Total:      total,
	}, nil
}

// BooksByCategory filters by category when an ID is given. Without one it
// returns the whole catalog labelled as AllBooksLabel. The list of all
// categories is included in both cases.
func (s *Service) BooksByCategory(ctx context.Context, categoryID *int64) (*CategoryView, error) {
	categories, err := s.books.Categories(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list categories")
	}

	if categoryID == nil {
		books, err := s.books.List(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list books")
		}
		return &CategoryView{Books: books, Categories: categories, Label: AllBooksLabel}, nil
	}

	category, err := s.books.GetCategory(ctx, *categoryID)
	if err != nil {
		return nil, err
	}
	books, err := s.books.ListByCategory(ctx, category.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list books of category %d", category.ID)
	}
	return &CategoryView{
		Books:      books,
		Categories: categories,
		Selected:   category,
		Label:      category.Name,
	}, nil
}

// CartBooks resolves the given IDs. Unknown IDs are silently skipped.
func (s *Service) CartBooks(ctx context.Context, ids []int64) ([]Book, error) {
	if len(ids) == 0 {
		return []Book{}, nil
	}
	books, err := s.books.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get cart books")
	}
	return books, nil
}

// maxPage bounds page numbers so the offset stays within int range.
const maxPage = math.MaxInt / PageSize

// parsePage mirrors Django's get_page: a non-integer selects the first page,
// while zero, negative and oversized integers select the last page.
func parsePage(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	switch {
	case errors.Is(err, strconv.ErrRange):
		return maxPage
	case err != nil:
		return 1
	case n < 1 || n > maxPage:
		return maxPage
	}
	return n
}

func totalPages(total int) int {
	if total <= 0 {
		return 1
	}
	return (total + PageSize - 1) / PageSize
}
