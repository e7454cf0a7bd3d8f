// Package commerce is the client for the commerce backend: variant lookup,
// checkout creation and completion (each with a stock-bypassing direct form
// and a standard GraphQL form), voucher handling, and the advisory metadata
// mutations used while finalizing an order.
package commerce

import "github.com/Highrates/vspomni-sub000/internal/pricing"

// Variant is one purchasable size of a product.
type Variant struct {
	ID       string
	Size     string
	Price    int64
	OldPrice int64
}

// Product is the backend's view of a catalog item, reduced to what checkout
// needs: availability and the purchasable variants.
type Product struct {
	ID        string
	Slug      string
	Name      string
	Available bool
	Variants  []Variant
}

// Checkout is the local view of a remote checkout, reduced to its token and
// the authoritative total. The backend owns everything else.
type Checkout struct {
	ID          string
	TotalAmount int64
}

// CheckoutLine is a resolved line sent to checkout creation.
type CheckoutLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// Voucher is the normalized discount descriptor returned by validation.
type Voucher struct {
	Code    string
	Type    pricing.DiscountType
	Percent int64
	Amount  int64
}

// Order is the finalize result; its lifecycle is owned by the backend.
type Order struct {
	ID     string
	Number string
	Status string
}

// Address is the billing address attached to a checkout before finalize.
type Address struct {
	FirstName  string `json:"first_name" yaml:"first_name"`
	LastName   string `json:"last_name" yaml:"last_name"`
	Street     string `json:"street" yaml:"street"`
	City       string `json:"city" yaml:"city"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	Country    string `json:"country" yaml:"country"`
	Phone      string `json:"phone,omitempty" yaml:"phone"`
}

func (a Address) IsZero() bool {
	return a == Address{}
}
