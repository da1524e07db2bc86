package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookstore/internal/domain/review"
)

const (
	insertReviewSQL = `INSERT INTO reviews (book_id, user_id, review_text, rating)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	listReviewsByBookSQL = `SELECT r.id, r.book_id, r.user_id, u.username, r.review_text, r.rating, r.created_at
		FROM reviews r JOIN users u ON u.id = r.user_id
		WHERE r.book_id = $1 ORDER BY r.created_at DESC, r.id DESC`
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository backed by PostgreSQL.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository returns a ReviewRepository that uses the given pool.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

// Create inserts a review.
func (r *ReviewRepository) Create(ctx context.Context, rv *review.Review) error {
	err := r.pool.QueryRow(ctx, insertReviewSQL, rv.BookID, rv.UserID, rv.Text, rv.Rating).
		Scan(&rv.ID, &rv.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting review of book %d: %w", rv.BookID, err)
	}
	return nil
}

// ListByBook returns the reviews of a book, newest first.
func (r *ReviewRepository) ListByBook(ctx context.Context, bookID int64) ([]review.Review, error) {
	rows, err := r.pool.Query(ctx, listReviewsByBookSQL, bookID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews of book %d: %w", bookID, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[review.Review])
}
