package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBookingCancelledDelivers(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.BookingCancelled(context.Background(), &booking.Booking{
		ID: "b-1", SlotID: "slot-9", Status: booking.StatusCancelled,
	})

	waitFor(t, func() bool { return got.Load() != nil })

	body := got.Load().(map[string]interface{})
	if body["event"] != "booking.cancelled" || body["bookingId"] != "b-1" {
		t.Fatalf("payload = %+v", body)
	}
}

func TestBookingCancelledRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.BookingCancelled(context.Background(), &booking.Booking{ID: "b-2"})

	waitFor(t, func() bool { return calls.Load() >= 2 })
}

func TestBookingCancelledGivesUpOnClientErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	n.BookingCancelled(context.Background(), &booking.Booking{ID: "b-3"})

	waitFor(t, func() bool { return calls.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, client error must not be retried", calls.Load())
	}
}
