package offer

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line carries the order data a discount is priced against. Order-level
// offer types use Subtotal and DeliveryFee; item-scoped types walk Items.
type Line struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Items       []LineItem
}

// LineItem is one order line for item-scoped discount types.
type LineItem struct {
	ItemID    string
	Category  string
	UnitPrice decimal.Decimal
	Quantity  int
}

// Terms is the pricing behaviour of one offer type. Each variant owns
// its discount formula, so supporting a new type is a new variant plus
// one arm in Terms(), not a scattered string switch.
type Terms interface {
	// Discount returns the unrounded discount for the line. Negative
	// results are floored at zero by Price.
	Discount(line Line) decimal.Decimal
}

// PercentageTerms discounts a fraction of the subtotal, optionally
// capped at a maximum amount.
type PercentageTerms struct {
	Percent decimal.Decimal
	// Cap limits the discount when positive. Zero means uncapped.
	Cap decimal.Decimal
}

func (t PercentageTerms) Discount(line Line) decimal.Decimal {
	raw := line.Subtotal.Mul(t.Percent).Div(hundred)
	if t.Cap.IsPositive() && raw.GreaterThan(t.Cap) {
		return t.Cap
	}
	return raw
}

// FixedAmountTerms subtracts a flat amount, never exceeding the subtotal.
type FixedAmountTerms struct {
	Amount decimal.Decimal
}

func (t FixedAmountTerms) Discount(line Line) decimal.Decimal {
	if t.Amount.GreaterThan(line.Subtotal) {
		return line.Subtotal
	}
	return t.Amount
}

// FreeDeliveryTerms waives the delivery fee supplied by the caller. The
// fee is configuration of the order pipeline, not of the offer.
type FreeDeliveryTerms struct{}

func (FreeDeliveryTerms) Discount(line Line) decimal.Decimal {
	return line.DeliveryFee
}

// BuyOneGetOneTerms gives floor(quantity/2) free units of every line
// item the offer applies to. Items outside AppliedItems contribute
// nothing.
type BuyOneGetOneTerms struct {
	AppliedItems []string
}

func (t BuyOneGetOneTerms) Discount(line Line) decimal.Decimal {
	applies := make(map[string]struct{}, len(t.AppliedItems))
	for _, id := range t.AppliedItems {
		applies[id] = struct{}{}
	}

	total := decimal.Zero
	for _, it := range line.Items {
		if _, ok := applies[it.ItemID]; !ok {
			continue
		}
		freeQty := it.Quantity / 2
		if freeQty <= 0 {
			continue
		}
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(freeQty))))
	}
	return total
}

// ComboTerms prices a fixed bundle: the discount is the savings versus
// buying each combo item individually, floored at zero. Item prices are
// resolved from the order line; combo items missing from the line
// contribute nothing.
type ComboTerms struct {
	ItemIDs []string
	Price   decimal.Decimal
}

func (t ComboTerms) Discount(line Line) decimal.Decimal {
	prices := make(map[string]decimal.Decimal, len(line.Items))
	for _, it := range line.Items {
		prices[it.ItemID] = it.UnitPrice
	}

	sum := decimal.Zero
	for _, id := range t.ItemIDs {
		if p, ok := prices[id]; ok {
			sum = sum.Add(p)
		}
	}
	return sum.Sub(t.Price)
}

// Terms resolves the offer's type tag into its pricing variant. The tag
// is decoded exactly once here, at the storage boundary.
func (o *Offer) Terms() (Terms, error) {
	switch o.Type {
	case TypePercentage:
		return PercentageTerms{Percent: o.Value, Cap: o.MaxDiscount}, nil
	case TypeFixedAmount:
		return FixedAmountTerms{Amount: o.Value}, nil
	case TypeFreeDelivery:
		return FreeDeliveryTerms{}, nil
	case TypeBuyOneGetOne:
		return BuyOneGetOneTerms{AppliedItems: o.AppliedItems}, nil
	case TypeCombo:
		return ComboTerms{ItemIDs: o.ComboItems, Price: o.ComboPrice}, nil
	}
	return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown offer type %q", o.Type)}
}

// Price computes the discount the offer yields for the given line.
// The result is floored at zero and rounded to 2 decimal places half-up;
// intermediate math stays unrounded.
func Price(o *Offer, line Line) (decimal.Decimal, error) {
	terms, err := o.Terms()
	if err != nil {
		return decimal.Decimal{}, err
	}
	amount := terms.Discount(line)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return amount.Round(2), nil
}
