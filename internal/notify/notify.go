// Package notify delivers urgent booking notices to facility owners.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bzeklaf/desynth-sub000/internal/booking"
	"github.com/bzeklaf/desynth-sub000/internal/logging"
	"github.com/bzeklaf/desynth-sub000/internal/retry"
)

const (
	defaultTimeout  = 10 * time.Second
	deliveryRetries = 3
)

// WebhookNotifier POSTs booking events to a facility webhook endpoint.
// Delivery is fire-and-forget: a failed webhook is logged, never
// propagated into the settlement path.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier for the given endpoint.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// BookingCancelled notifies the facility that a booking was cancelled.
// Delivery happens on a background goroutine with its own deadline so
// the caller's request is never held up.
func (n *WebhookNotifier) BookingCancelled(ctx context.Context, b *booking.Booking) {
	logger := logging.L(ctx)
	payload, err := json.Marshal(map[string]interface{}{
		"event":     "booking.cancelled",
		"bookingId": b.ID,
		"slotId":    b.SlotID,
		"status":    b.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("webhook payload marshal failed", "booking_id", b.ID, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		err := retry.Do(ctx, deliveryRetries, time.Second, func() error {
			return n.deliver(ctx, payload)
		})
		if err != nil {
			logger.Error("cancellation webhook delivery failed",
				"booking_id", b.ID, "url", n.url, "error", err)
			return
		}
		logger.Info("cancellation webhook delivered", "booking_id", b.ID)
	}()
}

func (n *WebhookNotifier) deliver(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors will not improve on retry.
		return retry.Permanent(fmt.Errorf("webhook endpoint returned %d", resp.StatusCode))
	}
	return nil
}

// NopNotifier discards all notices. Used when no webhook is configured.
type NopNotifier struct{}

func (NopNotifier) BookingCancelled(context.Context, *booking.Booking) {}

// Compile-time assertions.
var (
	_ booking.Notifier = (*WebhookNotifier)(nil)
	_ booking.Notifier = NopNotifier{}
)
