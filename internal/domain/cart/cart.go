package cart

import (
	"slices"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookstore/internal/domain/catalog"
)

// Shipping is the flat shipping fee applied to every non-empty cart.
var Shipping = decimal.NewFromInt(5)

// Cart maps book IDs to quantities. Every stored quantity is at least 1.
type Cart map[int64]int

// Add increments the quantity of the given book by one.
func (c Cart) Add(bookID int64) {
	c[bookID]++
}

// IDs returns the book IDs in ascending order.
func (c Cart) IDs() []int64 {
	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Summary is the derived totals of a cart.
type Summary struct {
	TotalItems int
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Total      decimal.Decimal
}

// Summarize computes cart totals from authoritative catalog prices. Books
// missing from prices are skipped. An empty cart yields a zero Summary with
// no shipping.
func Summarize(c Cart, prices catalog.PriceIndex) Summary {
	var s Summary
	for id, qty := range c {
		b, ok := prices[id]
		if !ok || qty < 1 {
			continue
		}
		s.TotalItems += qty
		s.Subtotal = s.Subtotal.Add(b.Price.Mul(decimal.NewFromInt(int64(qty))))
	}
	if s.TotalItems == 0 {
		return Summary{}
	}
	s.Subtotal = s.Subtotal.Round(2)
	s.Shipping = Shipping
	s.Total = s.Subtotal.Add(s.Shipping).Round(2)
	return s
}

// Decoded is the result of decoding a client cart payload.
type Decoded struct {
	Cart Cart
	// Rejected holds keys that are not positive integer book IDs, in payload
	// order.
	Rejected []string
	// Dropped holds book IDs whose quantity was below 1.
	Dropped []int64
}

// Decode parses a cart payload of the form {"<book id>": quantity}. A value
// may also be an object carrying a "quantity" field, which is the shape the
// storefront keeps in local storage. Entries with a quantity below 1 are
// dropped.
func Decode(data []byte) (*Decoded, error) {
	out := &Decoded{Cart: Cart{}}
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return nil, errors.New("cart payload must be an object")
	}
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		qty, err := decodeQuantity(d)
		if err != nil {
			return errors.Wrapf(err, "quantity of %q", key)
		}
		id, err := strconv.ParseInt(string(key), 10, 64)
		if err != nil || id < 1 {
			out.Rejected = append(out.Rejected, string(key))
			return nil
		}
		if qty < 1 {
			out.Dropped = append(out.Dropped, id)
			return nil
		}
		out.Cart[id] += qty
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return out, nil
}

func decodeQuantity(d *jx.Decoder) (int, error) {
	switch d.Next() {
	case jx.Number:
		return d.Int()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(s)
	case jx.Object:
		qty := 0
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "quantity" {
				return d.Skip()
			}
			v, err := decodeQuantity(d)
			qty = v
			return err
		})
		return qty, err
	default:
		return 0, errors.Errorf("unexpected %s", d.Next())
	}
}

// Encode writes the cart as {"<book id>": quantity} with ascending keys.
func Encode(c Cart) []byte {
	var e jx.Encoder
	e.ObjStart()
	for _, id := range c.IDs() {
		e.FieldStart(strconv.FormatInt(id, 10))
		e.Int(c[id])
	}
	e.ObjEnd()
	return e.Bytes()
}

// EncodeSummary writes s with decimal values as JSON numbers.
func EncodeSummary(s Summary) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("total_items")
	e.Int(s.TotalItems)
	e.FieldStart("subtotal")
	e.Num(jx.Num(s.Subtotal.StringFixed(2)))
	e.FieldStart("shipping")
	e.Num(jx.Num(s.Shipping.StringFixed(2)))
	e.FieldStart("total")
	e.Num(jx.Num(s.Total.StringFixed(2)))
	e.ObjEnd()
	return e.Bytes()
}

// DecodeSummary parses a summary object. Numeric fields may be JSON numbers
// or numeric strings; unknown fields are ignored.
func DecodeSummary(data []byte) (Summary, error) {
	var s Summary
	d := jx.DecodeBytes(data)
	if d.Next() != jx.Object {
		return s, errors.New("summary payload must be an object")
	}
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *decimal.Decimal
		switch string(key) {
		case "total_items":
			v, err := decodeDecimal(d)
			if err != nil {
				return errors.Wrap(err, "total_items")
			}
			s.TotalItems = int(v.IntPart())
			return nil
		case "subtotal":
			dst = &s.Subtotal
		case "shipping":
			dst = &s.Shipping
		case "total":
			dst = &s.Total
		default:
			return d.Skip()
		}
		v, err := decodeDecimal(d)
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		*dst = v
		return nil
	})
	if err != nil {
		return Summary{}, errors.Wrap(err, "decode summary")
	}
	return s, nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(string(n))
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	default:
		return decimal.Zero, errors.Errorf("unexpected %s", d.Next())
	}
}
