package order

import "strings"

// Payment is the payment details captured with an order. No payment is
// processed; the details are stored as submitted.
//
// The concrete type is one of CardPayment, PaypalPayment or OtherPayment.
type Payment interface {
	// Method returns the payment method name as chosen by the customer.
	Method() string
	payment()
}

// CardPayment is a credit or debit card payment.
type CardPayment struct {
	Kind      string
	AccountNo string
	CVV       string
	Expiry    string
	SortCode  string
}

func (p CardPayment) Method() string { return p.Kind }
func (CardPayment) payment()         {}

// PaypalPayment is a PayPal payment.
type PaypalPayment struct {
	ID string
}

func (PaypalPayment) Method() string { return "paypal" }
func (PaypalPayment) payment()       {}

// OtherPayment is any method without method-specific fields, such as cash on
// delivery.
type OtherPayment struct {
	Name string
}

func (p OtherPayment) Method() string { return p.Name }
func (OtherPayment) payment()         {}

// PaymentFields are the raw method-specific fields submitted at checkout.
// Fields that do not belong to the chosen method are discarded.
type PaymentFields struct {
	AccountNo string
	CVV       string
	Expiry    string
	SortCode  string
	PaypalID  string
}

// NewPayment builds the Payment for a method name.
func NewPayment(method string, f PaymentFields) Payment {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "card", "credit", "debit":
		return CardPayment{
			Kind:      method,
			AccountNo: f.AccountNo,
			CVV:       f.CVV,
			Expiry:    f.Expiry,
			SortCode:  f.SortCode,
		}
	case "paypal":
		return PaypalPayment{ID: f.PaypalID}
	default:
		return OtherPayment{Name: method}
	}
}

// Fields flattens p back into the stored column set. Columns that do not
// apply to the method are empty.
func Fields(p Payment) PaymentFields {
	switch p := p.(type) {
	case CardPayment:
		return PaymentFields{
			AccountNo: p.AccountNo,
			CVV:       p.CVV,
			Expiry:    p.Expiry,
			SortCode:  p.SortCode,
		}
	case PaypalPayment:
		return PaymentFields{PaypalID: p.ID}
	default:
		return PaymentFields{}
	}
}
