package pricing

// Package pricing computes line and order totals for the storefront cart.

// DiscountType identifies how a promo code reduces the order total.
type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixed      DiscountType = "FIXED"
)

// Line is the pricing view of a cart line. OldPrice is the struck-through
// pre-discount unit price and is zero when the product carries no discount.
type Line struct {
	Price    int64
	OldPrice int64
	Quantity int
}

// Promo describes the single promo code applied to an order. For PERCENTAGE
// promos Percent is used; for FIXED promos Amount is the per-order discount
// and is independent of quantity.
type Promo struct {
	Code    string
	Type    DiscountType
	Percent int64
	Amount  int64
}

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// BasePrice returns the unit price a line is totalled at. A product-level
// discount keeps the old price struck through on the line itself, so the
// larger of the two prices is the base.
func (e *Engine) BasePrice(line Line) int64 {
	if line.OldPrice > line.Price {
		return line.OldPrice
	}
	return line.Price
}

func (e *Engine) LineSubtotal(line Line) int64 {
	quantity := line.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return e.BasePrice(line) * int64(quantity)
}

func (e *Engine) Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += e.LineSubtotal(line)
	}
	return subtotal
}

// Discount returns the promo discount for the given subtotal, capped at the
// subtotal itself. Percentage discounts round half-up to the nearest whole
// currency unit.
func (e *Engine) Discount(subtotal int64, promo *Promo) int64 {
	if promo == nil || subtotal <= 0 {
		return 0
	}

	var discount int64
	switch promo.Type {
	case DiscountFixed:
		discount = promo.Amount
	case DiscountPercentage:
		discount = roundHalfUp(subtotal*promo.Percent, 100)
	}

	if discount < 0 {
		return 0
	}
	if discount > subtotal {
		return subtotal
	}
	return discount
}

// OrderTotal is the subtotal minus the single applied promo discount,
// floored at zero.
func (e *Engine) OrderTotal(lines []Line, promo *Promo) int64 {
	subtotal := e.Subtotal(lines)
	total := subtotal - e.Discount(subtotal, promo)
	if total < 0 {
		return 0
	}
	return total
}

func (e *Engine) TotalItems(lines []Line) int {
	var items int
	for _, line := range lines {
		if line.Quantity > 0 {
			items += line.Quantity
		}
	}
	return items
}

func roundHalfUp(numerator, denominator int64) int64 {
	if denominator <= 0 {
		return 0
	}
	return (numerator + denominator/2) / denominator
}
