//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
)

// Seeded offer ids are stable, so claim tests can target them directly.
const oneTimeOfferID = "seed-tryus15"

func offerCodes(offers []offerResponse) map[string]bool {
	codes := make(map[string]bool, len(offers))
	for _, o := range offers {
		codes[o.Code] = true
	}
	return codes
}

func TestListOffers(t *testing.T) {
	resp := doGet(t, "/api/offers")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	codes := offerCodes(decodeJSON[[]offerResponse](t, resp))

	for _, want := range []string{"WELCOME10", "SAVE5", "FREESHIP", "BOGOPIZZA", "DATENIGHT", "TRYUS15"} {
		if !codes[want] {
			t.Errorf("offer %s missing from storefront listing", want)
		}
	}
	if codes["EXPIRED20"] {
		t.Error("expired offer EXPIRED20 must not be listed")
	}
}

func TestListOffers_PickupHidesDeliveryOnly(t *testing.T) {
	resp := doGet(t, "/api/offers?deliveryType=pickup")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	codes := offerCodes(decodeJSON[[]offerResponse](t, resp))
	if codes["FREESHIP"] {
		t.Error("delivery-only offer FREESHIP listed for pickup")
	}
	if !codes["WELCOME10"] {
		t.Error("unrestricted offer WELCOME10 missing for pickup")
	}
}

func TestApplyOffer_Percentage(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "1", Quantity: 2}}, // 2x Margherita $12.50
		DeliveryType: "pickup",
		CouponCode:   "WELCOME10",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if !quote.Applied {
		t.Fatalf("expected applied, got reason %q", quote.Reason)
	}
	if quote.Offer == nil || quote.Offer.Code != "WELCOME10" {
		t.Fatalf("offer: got %+v, want WELCOME10", quote.Offer)
	}
	assertMoney(t, "subtotal", quote.Subtotal, 25.00)
	assertMoney(t, "deliveryFee", quote.DeliveryFee, 0)
	assertMoney(t, "discount", quote.Discount, 2.50)
	assertMoney(t, "total", quote.Total, 22.50)
	if len(quote.Items) != 1 {
		t.Errorf("expected 1 hydrated menu item, got %d", len(quote.Items))
	}
}

func TestApplyOffer_BelowMinimum(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "6", Quantity: 1}}, // Lemonade $3.50
		DeliveryType: "pickup",
		CouponCode:   "WELCOME10",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if quote.Applied {
		t.Fatal("offer below minimum must not apply")
	}
	if quote.Reason != "min_order_not_met" {
		t.Errorf("reason: got %q, want %q", quote.Reason, "min_order_not_met")
	}
	assertMoney(t, "discount", quote.Discount, 0)
	assertMoney(t, "total", quote.Total, 3.50)
}

func TestApplyOffer_Expired(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "1", Quantity: 2}},
		DeliveryType: "pickup",
		CouponCode:   "EXPIRED20",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if quote.Applied {
		t.Fatal("expired offer must not apply")
	}
	if quote.Reason != "expired_or_inactive" {
		t.Errorf("reason: got %q, want %q", quote.Reason, "expired_or_inactive")
	}
}

func TestApplyOffer_FreeDelivery(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "2", Quantity: 2}}, // 2x Pepperoni $14.00
		DeliveryType: "delivery",
		CouponCode:   "FREESHIP",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	quote := decodeJSON[quoteResponse](t, resp)
	if !quote.Applied {
		t.Fatalf("expected applied, got reason %q", quote.Reason)
	}
	// The fee is still quoted; the discount cancels it.
	assertMoney(t, "subtotal", quote.Subtotal, 28.00)
	assertMoney(t, "deliveryFee", quote.DeliveryFee, 4.99)
	assertMoney(t, "discount", quote.Discount, 4.99)
	assertMoney(t, "total", quote.Total, 28.00)
}

func TestApplyOffer_FreeDeliveryOnPickup(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "2", Quantity: 2}},
		DeliveryType: "pickup",
		CouponCode:   "FREESHIP",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	quote := decodeJSON[quoteResponse](t, resp)
	if quote.Applied {
		t.Fatal("delivery-only offer must not apply to pickup")
	}
	if quote.Reason != "delivery_type_mismatch" {
		t.Errorf("reason: got %q, want %q", quote.Reason, "delivery_type_mismatch")
	}
}

func TestApplyOffer_Combo(t *testing.T) {
	req := applyRequest{
		Items: []orderItemRequest{
			{ItemID: "1", Quantity: 1}, // Margherita $12.50
			{ItemID: "5", Quantity: 1}, // Tiramisu $7.00
			{ItemID: "6", Quantity: 1}, // Lemonade $3.50
		},
		DeliveryType: "pickup",
		CouponCode:   "DATENIGHT",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	quote := decodeJSON[quoteResponse](t, resp)
	if !quote.Applied {
		t.Fatalf("expected applied, got reason %q", quote.Reason)
	}
	// Items total $23.00, combo price $19.99.
	assertMoney(t, "subtotal", quote.Subtotal, 23.00)
	assertMoney(t, "discount", quote.Discount, 3.01)
	assertMoney(t, "total", quote.Total, 19.99)
}

func TestApplyOffer_AutoApplyPicksBest(t *testing.T) {
	req := applyRequest{
		Items:        []orderItemRequest{{ItemID: "1", Quantity: 2}},
		DeliveryType: "delivery",
		AutoApply:    true,
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	quote := decodeJSON[quoteResponse](t, resp)
	if !quote.Applied {
		t.Fatalf("expected applied, got reason %q", quote.Reason)
	}
	// Two margheritas: the buy-one-get-one ($12.50 off) beats every
	// percentage and fixed-amount campaign.
	if quote.Offer == nil || quote.Offer.Code != "BOGOPIZZA" {
		t.Fatalf("offer: got %+v, want BOGOPIZZA", quote.Offer)
	}
	assertMoney(t, "discount", quote.Discount, 12.50)
	assertMoney(t, "total", quote.Total, 17.49)
}

func TestApplyOffer_UnknownCode(t *testing.T) {
	req := applyRequest{
		Items:      []orderItemRequest{{ItemID: "1", Quantity: 1}},
		CouponCode: "NOSUCHCODE10",
	}
	resp := doPost(t, "/api/offers/apply", req)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != 422 {
		t.Errorf("error code: got %d, want 422", errResp.Code)
	}
}

func TestClaimOffer_Lifecycle(t *testing.T) {
	const device = "it-claim-device"

	resp := doPost(t, "/api/offers/"+oneTimeOfferID+"/claim", claimRequest{DeviceID: device})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("first claim: expected 204, got %d", resp.StatusCode)
	}

	resp = doPost(t, "/api/offers/"+oneTimeOfferID+"/claim", claimRequest{DeviceID: device})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second claim: expected 409, got %d", resp.StatusCode)
	}

	// A claimed device can no longer use the offer.
	quoteResp := doPost(t, "/api/offers/apply", applyRequest{
		Items:        []orderItemRequest{{ItemID: "1", Quantity: 1}},
		DeviceID:     device,
		DeliveryType: "pickup",
		CouponCode:   "TRYUS15",
	})
	defer quoteResp.Body.Close()

	quote := decodeJSON[quoteResponse](t, quoteResp)
	if quote.Applied {
		t.Fatal("claimed device must not apply a one-time offer again")
	}
	if quote.Reason != "already_claimed" {
		t.Errorf("reason: got %q, want %q", quote.Reason, "already_claimed")
	}

	// And the storefront listing for that device hides it.
	listResp := doGet(t, "/api/offers?deviceId="+device)
	defer listResp.Body.Close()
	codes := offerCodes(decodeJSON[[]offerResponse](t, listResp))
	if codes["TRYUS15"] {
		t.Error("claimed one-time offer still listed for the claiming device")
	}
}

func TestClaimOffer_NotClaimable(t *testing.T) {
	resp := doPost(t, "/api/offers/seed-welcome10/claim", claimRequest{DeviceID: "it-any-device"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestClaimOffer_UnknownOffer(t *testing.T) {
	resp := doPost(t, "/api/offers/no-such-offer/claim", claimRequest{DeviceID: "it-any-device"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestClaimOffer_MissingDevice(t *testing.T) {
	resp := doPost(t, "/api/offers/"+oneTimeOfferID+"/claim", claimRequest{})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

// TestClaimOffer_Race fires concurrent claims for one device and expects
// the conditional insert to admit exactly one.
func TestClaimOffer_Race(t *testing.T) {
	const (
		device  = "it-race-device"
		workers = 8
	)

	body, err := json.Marshal(claimRequest{DeviceID: device})
	if err != nil {
		t.Fatalf("marshal claim: %v", err)
	}

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		statuses = make([]int, workers)
		errs     = make([]error, workers)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			resp, err := httpClient.Post(
				baseURL+"/api/offers/"+oneTimeOfferID+"/claim",
				"application/json",
				bytes.NewReader(body),
			)
			if err != nil {
				errs[i] = err
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}

	close(start)
	wg.Wait()

	var claimed, conflicted int
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("claim %d: %v", i, errs[i])
		}
		switch statuses[i] {
		case http.StatusNoContent:
			claimed++
		case http.StatusConflict:
			conflicted++
		default:
			t.Errorf("claim %d: unexpected status %d", i, statuses[i])
		}
	}

	if claimed != 1 {
		t.Errorf("claims admitted: got %d, want exactly 1", claimed)
	}
	if conflicted != workers-1 {
		t.Errorf("claims rejected: got %d, want %d", conflicted, workers-1)
	}
}
