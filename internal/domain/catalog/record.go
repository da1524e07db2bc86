package catalog

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Record is one book of an import file. Category is a name that is resolved
// to an ID by the importer.
type Record struct {
	Title       string
	Author      string
	Price       decimal.Decimal
	Rating      float64
	Description string
	ImageURL    string
	Category    string
}

// Book returns the record as a Book in categoryID with defaults applied.
func (r Record) Book(categoryID *int64) Book {
	return Book{
		Title:       r.Title,
		Author:      r.Author,
		Price:       r.Price,
		Rating:      r.Rating,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		CategoryID:  categoryID,
	}.WithDefaults()
}

// Key identifies a record the way books are deduplicated in storage.
func (r Record) Key() string {
	return BookKey(r.Title, r.Author)
}

// BookKey joins title and author into the storage uniqueness key.
func BookKey(title, author string) string {
	return title + "\x00" + author
}

// DecodeRecord parses one JSON book object. Price may be a number or a
// numeric string; "image" and "image_url" are both accepted. Unknown fields
// are ignored.
func DecodeRecord(d *jx.Decoder) (Record, error) {
	var (
		r        Record
		hasPrice bool
	)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "title":
			r.Title, err = d.Str()
		case "author":
			r.Author, err = d.Str()
		case "description":
			r.Description, err = d.Str()
		case "image", "image_url":
			r.ImageURL, err = d.Str()
		case "category":
			if d.Next() == jx.Null {
				return d.Null()
			}
			r.Category, err = d.Str()
		case "rating":
			r.Rating, err = d.Float64()
		case "price":
			r.Price, err = decodePrice(d)
			hasPrice = err == nil
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return r, errors.Wrap(err, "decode book")
	}

	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.Category = strings.TrimSpace(r.Category)
	switch {
	case r.Title == "":
		return r, errors.New("book title is required")
	case !hasPrice:
		return r, errors.Errorf("book %q: price is required", r.Title)
	case r.Price.IsNegative():
		return r, errors.Errorf("book %q: price must not be negative", r.Title)
	case r.Rating < 0 || r.Rating > 5:
		return r, errors.Errorf("book %q: rating must be between 0 and 5", r.Title)
	}
	// Author defaults before the key is computed so duplicates collapse.
	if r.Author == "" {
		r.Author = DefaultAuthor
	}
	return r, nil
}

func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(strings.TrimSpace(s))
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
}
