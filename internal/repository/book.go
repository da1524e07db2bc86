package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/catalog"
)

const (
	bookSelect = `SELECT b.id, b.title, b.author, b.price, b.rating, b.description, b.image_url,
		b.category_id, COALESCE(c.name, '')
		FROM books b LEFT JOIN categories c ON c.id = b.category_id`

	listBooksSQL = bookSelect + ` ORDER BY b.id`

	getBookByIDSQL = bookSelect + ` WHERE b.id = $1`

	getBooksByIDsSQL = bookSelect + ` WHERE b.id = ANY($1) ORDER BY b.id`

	searchBooksSQL = bookSelect + ` WHERE b.title ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY b.id LIMIT $2 OFFSET $3`

	countBooksSQL = `SELECT COUNT(*) FROM books b WHERE b.title ILIKE '%' || $1 || '%' ESCAPE '\'`

	listBooksByCategorySQL = bookSelect + ` WHERE b.category_id = $1 ORDER BY b.id`

	listCategoriesSQL = `SELECT id, name FROM categories ORDER BY name`

	getCategorySQL = `SELECT id, name FROM categories WHERE id = $1`

	upsertCategorySQL = `INSERT INTO categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`

	bookKeysSQL = `SELECT title, author FROM books`

	bookExistsSQL = `SELECT EXISTS (SELECT 1 FROM books WHERE title = $1 AND author = $2)`

	upsertBookSQL = `INSERT INTO books (title, author, price, rating, description, image_url, category_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (title, author) DO UPDATE SET
			price = EXCLUDED.price,
			rating = EXCLUDED.rating,
			description = EXCLUDED.description,
			image_url = EXCLUDED.image_url,
			category_id = EXCLUDED.category_id`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

var _ catalog.Repository = (*BookRepository)(nil)

// BookRepository implements catalog.Repository backed by PostgreSQL.
type BookRepository struct {
	pool *pgxpool.Pool
}

// NewBookRepository returns a BookRepository that uses the given pool.
func NewBookRepository(pool *pgxpool.Pool) *BookRepository {
	return &BookRepository{pool: pool}
}

// List returns all books ordered by ID.
func (r *BookRepository) List(ctx context.Context) ([]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, listBooksSQL)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// GetByID returns a single book by its identifier.
func (r *BookRepository) GetByID(ctx context.Context, id int64) (*catalog.Book, error) {
	rows, err := r.pool.Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}
	return &b, nil
}

// GetByIDs returns books matching any of the given IDs.
func (r *BookRepository) GetByIDs(ctx context.Context, ids []int64) ([]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, getBooksByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting books by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// Search returns one window of books whose title contains query, ignoring
// case, and the total number of matches.
func (r *BookRepository) Search(ctx context.Context, query string, limit, offset int) ([]catalog.Book, int, error) {
	pattern := likeEscaper.Replace(query)

	var total int
	if err := r.pool.QueryRow(ctx, countBooksSQL, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting books matching %q: %w", query, err)
	}
	if total == 0 {
		return []catalog.Book{}, 0, nil
	}

	rows, err := r.pool.Query(ctx, searchBooksSQL, pattern, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("searching books %q: %w", query, err)
	}
	books, err := pgx.CollectRows(rows, scanBook)
	if err != nil {
		return nil, 0, fmt.Errorf("searching books %q: %w", query, err)
	}
	return books, total, nil
}

// ListByCategory returns the books of one category.
func (r *BookRepository) ListByCategory(ctx context.Context, categoryID int64) ([]catalog.Book, error) {
	rows, err := r.pool.Query(ctx, listBooksByCategorySQL, categoryID)
	if err != nil {
		return nil, fmt.Errorf("listing books of category %d: %w", categoryID, err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// Categories returns all categories ordered by name.
func (r *BookRepository) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := r.pool.Query(ctx, listCategoriesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Category])
}

// GetCategory returns a single category.
func (r *BookRepository) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	rows, err := r.pool.Query(ctx, getCategorySQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting category %d: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.Category])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("getting category %d: %w", id, err)
	}
	return &c, nil
}

// EnsureCategory returns the ID of the named category, creating it if needed.
func (r *BookRepository) EnsureCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	if err := r.pool.QueryRow(ctx, upsertCategorySQL, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting category %q: %w", name, err)
	}
	return id, nil
}

// Upsert inserts books or updates them by (title, author) in one batch.
func (r *BookRepository) Upsert(ctx context.Context, books []catalog.Book) error {
	if len(books) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range books {
		batch.Queue(upsertBookSQL,
			b.Title, b.Author, b.Price, b.Rating, b.Description, b.ImageURL, b.CategoryID,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d books: %w", len(books), err)
	}
	return nil
}

// EachKey calls fn with the title and author of every stored book.
func (r *BookRepository) EachKey(ctx context.Context, fn func(title, author string)) error {
	rows, err := r.pool.Query(ctx, bookKeysSQL)
	if err != nil {
		return fmt.Errorf("querying book keys: %w", err)
	}
	var title, author string
	_, err = pgx.ForEachRow(rows, []any{&title, &author}, func() error {
		fn(title, author)
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning book keys: %w", err)
	}
	return nil
}

// Exists reports whether a book with exactly this title and author is stored.
func (r *BookRepository) Exists(ctx context.Context, title, author string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, bookExistsSQL, title, author).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking book %q: %w", title, err)
	}
	return ok, nil
}

func scanBook(row pgx.CollectableRow) (catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(
		&b.ID, &b.Title, &b.Author, &b.Price, &b.Rating, &b.Description, &b.ImageURL,
		&b.CategoryID, &b.CategoryName,
	)
	return b, err
}
