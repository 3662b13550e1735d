package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/pricing"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t, 1)
	handler := NewHandler(f.coordinator)

	r := gin.New()
	// Stand-in for the auth middleware: capabilities come from headers.
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-Test-Admin") == "1" {
			c.Set("authAdmin", true)
		}
		if c.GetHeader("X-Test-Arbiter") == "1" {
			c.Set("authArbiter", true)
		}
	})
	handler.RegisterRoutes(r.Group("/v1"))
	return r, f
}

func doAction(t *testing.T, r *gin.Engine, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/v1/escrow/actions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	return body.Error.Code
}

func TestDispatchCreateEscrow(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)

	w := doAction(t, r, map[string]interface{}{
		"action":          "create_escrow",
		"bookingId":       b.ID,
		"buyerAddress":    testBuyerAddr,
		"facilityAddress": testFacilityAddr,
		"token":           "USDC",
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDispatchCreateWithoutBuyerAddress(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)

	w := doAction(t, r, map[string]interface{}{
		"action":          "create_escrow",
		"bookingId":       b.ID,
		"facilityAddress": testFacilityAddr,
	}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	e, err := f.coordinator.GetByBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e.BuyerAddress != "" {
		t.Errorf("buyer address = %q, want empty", e.BuyerAddress)
	}
}

func TestDispatchRejectsUnknownAction(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doAction(t, r, map[string]interface{}{"action": "melt_escrow"}, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}
}

func TestDispatchValidatesAddresses(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)

	w := doAction(t, r, map[string]interface{}{
		"action":          "create_escrow",
		"bookingId":       b.ID,
		"buyerAddress":    "not-an-address",
		"facilityAddress": testFacilityAddr,
	}, nil)

	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}
}

func TestDispatchConfirmBadTxHash(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)

	w := doAction(t, r, map[string]interface{}{
		"action":    "confirm_escrow",
		"bookingId": b.ID,
		"txHash":    "0xdeadbeef",
	}, nil)

	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}

	// The malformed hash must not have touched the escrow.
	e, err := f.coordinator.GetByBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e.Status != StatusCreated {
		t.Errorf("escrow status = %s, want created", e.Status)
	}
}

func TestDispatchReleaseRequiresCapability(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)
	funded, err := f.coordinator.Confirm(context.Background(), b.ID, testTxHash)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	w := doAction(t, r, map[string]interface{}{
		"action":   "release_escrow",
		"escrowId": funded.ID,
	}, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("unauthenticated release: status = %d", w.Code)
	}

	w = doAction(t, r, map[string]interface{}{
		"action":   "release_escrow",
		"escrowId": funded.ID,
	}, map[string]string{"X-Test-Arbiter": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("arbiter release: status = %d, body = %s", w.Code, w.Body.String())
	}
}

// Every action addressing an existing escrow accepts the booking id as
// an equivalent key.
func TestDispatchReleaseByBookingID(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)
	if _, err := f.coordinator.Confirm(context.Background(), b.ID, testTxHash); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	w := doAction(t, r, map[string]interface{}{
		"action":    "release_escrow",
		"bookingId": b.ID,
	}, map[string]string{"X-Test-Arbiter": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	e, err := f.coordinator.GetByBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e.Status != StatusReleased {
		t.Errorf("escrow status = %s, want released", e.Status)
	}
}

func TestDispatchDisputeAndResolveByBookingID(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)
	if _, err := f.coordinator.Confirm(context.Background(), b.ID, testTxHash); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	w := doAction(t, r, map[string]interface{}{
		"action":    "dispute_escrow",
		"bookingId": b.ID,
		"reason":    "slot never delivered",
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dispute: status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doAction(t, r, map[string]interface{}{
		"action":    "resolve_dispute",
		"bookingId": b.ID,
		"winner":    "facility",
	}, map[string]string{"X-Test-Admin": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body = %s", w.Code, w.Body.String())
	}

	e, err := f.coordinator.GetByBooking(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if e.Status != StatusResolved {
		t.Errorf("escrow status = %s, want resolved", e.Status)
	}
}

func TestDispatchReleaseWithoutAnyKey(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doAction(t, r, map[string]interface{}{
		"action": "release_escrow",
	}, map[string]string{"X-Test-Arbiter": "1"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "VALIDATION_ERROR" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}
}

func TestDispatchResolveRequiresAdmin(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)
	ctx := context.Background()
	funded, _ := f.coordinator.Confirm(ctx, b.ID, testTxHash)
	_, _ = f.coordinator.Dispute(ctx, funded.ID, "quality", "buyer-1")

	w := doAction(t, r, map[string]interface{}{
		"action":   "resolve_dispute",
		"escrowId": funded.ID,
		"winner":   "buyer",
	}, map[string]string{"X-Test-Arbiter": "1"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("arbiter resolve: status = %d, want 403", w.Code)
	}

	w = doAction(t, r, map[string]interface{}{
		"action":   "resolve_dispute",
		"escrowId": funded.ID,
		"winner":   "buyer",
	}, map[string]string{"X-Test-Admin": "1"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin resolve: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestDispatchInvalidStateConflict(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	e := f.createEscrow(t, b.ID)

	w := doAction(t, r, map[string]interface{}{
		"action":   "release_escrow",
		"escrowId": e.ID,
	}, map[string]string{"X-Test-Arbiter": "1"})

	if w.Code != http.StatusConflict || errorCode(t, w) != "INVALID_STATE" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}
}

func TestDispatchGetStatusByBooking(t *testing.T) {
	r, f := newTestRouter(t)
	b := f.newBooking(t)
	f.createEscrow(t, b.ID)

	w := doAction(t, r, map[string]interface{}{
		"action":    "get_status",
		"bookingId": b.ID,
	}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Data struct {
			Escrow  *Escrow          `json:"escrow"`
			Booking *booking.Booking `json:"booking"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body.Data.Escrow == nil || body.Data.Escrow.BookingID != b.ID {
		t.Fatalf("escrow missing from status report")
	}
	if body.Data.Booking == nil || body.Data.Booking.PaymentMethod != pricing.MethodCrypto {
		t.Fatalf("booking missing from status report")
	}
}

func TestGetStatusNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/escrow/esc_missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound || errorCode(t, w) != "NOT_FOUND" {
		t.Fatalf("status = %d, code = %s", w.Code, errorCode(t, w))
	}
}
