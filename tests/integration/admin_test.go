//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"
)

type adminOfferRequest struct {
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Code           string    `json:"code,omitempty"`
	Type           string    `json:"type"`
	Value          string    `json:"value,omitempty"`
	MinOrderAmount string    `json:"minOrderAmount,omitempty"`
	Platforms      []string  `json:"platforms,omitempty"`
	StartDate      time.Time `json:"startDate"`
	EndDate        time.Time `json:"endDate"`
	Priority       int       `json:"priority,omitempty"`
	Active         bool      `json:"active"`
}

var (
	adminWindowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adminWindowEnd   = time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC)
)

// TestAdminCreateOffer_ThenApply proves codes created after startup are
// usable immediately: the coupon prefilter learns new codes on the write
// path rather than waiting for its periodic rebuild.
func TestAdminCreateOffer_ThenApply(t *testing.T) {
	create := adminOfferRequest{
		Title:     "Integration 20% Off",
		Code:      "INTEG20",
		Type:      "percentage",
		Value:     "20",
		StartDate: adminWindowStart,
		EndDate:   adminWindowEnd,
		Active:    true,
	}
	resp := doPost(t, "/api/admin/offers", create)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	created := decodeJSON[offerResponse](t, resp)
	if created.ID == "" {
		t.Fatal("created offer has no id")
	}
	if created.Code != "INTEG20" {
		t.Errorf("code: got %q, want INTEG20", created.Code)
	}

	quoteResp := doPost(t, "/api/offers/apply", applyRequest{
		Items:        []orderItemRequest{{ItemID: "1", Quantity: 1}}, // Margherita $12.50
		DeliveryType: "pickup",
		CouponCode:   "INTEG20",
	})
	defer quoteResp.Body.Close()

	if quoteResp.StatusCode != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d", quoteResp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, quoteResp)
	if !quote.Applied {
		t.Fatalf("expected applied, got reason %q", quote.Reason)
	}
	assertMoney(t, "discount", quote.Discount, 2.50)
	assertMoney(t, "total", quote.Total, 10.00)
}

func TestAdminCreateOffer_PlatformScoped(t *testing.T) {
	create := adminOfferRequest{
		Title:     "Mobile Only 10%",
		Code:      "MOBI10",
		Type:      "percentage",
		Value:     "10",
		Platforms: []string{"mobile"},
		StartDate: adminWindowStart,
		EndDate:   adminWindowEnd,
		Active:    true,
	}
	resp := doPost(t, "/api/admin/offers", create)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}

	apply := applyRequest{
		Items:        []orderItemRequest{{ItemID: "2", Quantity: 1}}, // Pepperoni $14.00
		DeliveryType: "pickup",
		CouponCode:   "MOBI10",
	}

	apply.Platform = "web"
	webResp := doPost(t, "/api/offers/apply", apply)
	webQuote := decodeJSON[quoteResponse](t, webResp)
	webResp.Body.Close()
	if webQuote.Applied {
		t.Fatal("mobile-only offer applied from web")
	}
	if webQuote.Reason != "platform_mismatch" {
		t.Errorf("reason: got %q, want %q", webQuote.Reason, "platform_mismatch")
	}

	apply.Platform = "mobile"
	mobileResp := doPost(t, "/api/offers/apply", apply)
	defer mobileResp.Body.Close()
	mobileQuote := decodeJSON[quoteResponse](t, mobileResp)
	if !mobileQuote.Applied {
		t.Fatalf("expected applied on mobile, got reason %q", mobileQuote.Reason)
	}
	assertMoney(t, "discount", mobileQuote.Discount, 1.40)
}

func TestAdminCreateOffer_Invalid(t *testing.T) {
	create := adminOfferRequest{
		Type:      "percentage",
		Value:     "10",
		StartDate: adminWindowStart,
		EndDate:   adminWindowEnd,
		Active:    true,
	}
	resp := doPost(t, "/api/admin/offers", create)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != 400 {
		t.Errorf("error code: got %d, want 400", errResp.Code)
	}
}

// The admin listing shows every offer; the storefront hides expired ones.
func TestAdminListOffers_IncludesExpired(t *testing.T) {
	resp := doGet(t, "/api/admin/offers")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	codes := offerCodes(decodeJSON[[]offerResponse](t, resp))
	if !codes["EXPIRED20"] {
		t.Error("admin listing must include expired offers")
	}
}
