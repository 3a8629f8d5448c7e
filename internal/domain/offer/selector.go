package offer

import "github.com/shopspring/decimal"

// Selection pairs the winning offer with its computed discount.
type Selection struct {
	Offer    Offer
	Discount decimal.Decimal
}

// SelectBest picks the single offer yielding the greatest discount for
// the line; offers never stack. Ties go to the higher priority, then
// the more recently created offer, then the lexically greater id, so
// the result is deterministic regardless of input order. Offers whose
// terms fail to resolve are skipped. The boolean is false when no offer
// prices successfully.
func SelectBest(offers []Offer, line Line) (Selection, bool) {
	var (
		best  Selection
		found bool
	)
	for i := range offers {
		amount, err := Price(&offers[i], line)
		if err != nil {
			continue
		}
		cand := Selection{Offer: offers[i], Discount: amount}
		if !found || better(cand, best) {
			best = cand
			found = true
		}
	}
	return best, found
}

func better(a, b Selection) bool {
	if !a.Discount.Equal(b.Discount) {
		return a.Discount.GreaterThan(b.Discount)
	}
	if a.Offer.Priority != b.Offer.Priority {
		return a.Offer.Priority > b.Offer.Priority
	}
	if !a.Offer.CreatedAt.Equal(b.Offer.CreatedAt) {
		return a.Offer.CreatedAt.After(b.Offer.CreatedAt)
	}
	return a.Offer.ID > b.Offer.ID
}
