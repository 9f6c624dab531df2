package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderChannelID  = "X-Channel-Id"
	HeaderEventKind  = "X-Event-Kind"
	HeaderDeliveryID = "X-Delivery-Id"

	defaultTimeout = 30 * time.Second
	userAgent      = "notification-gateway-webhook/1.0"
)

// SubscriptionSource lists the webhooks registered on a channel.
type SubscriptionSource interface {
	ListWebhooks(ctx context.Context, channelID string) ([]Subscription, error)
}

// Observer records delivery outcomes.
type Observer interface {
	ObserveDelivery(kind EventKind, success bool, elapsed time.Duration)
}

// Delivery is the outcome of one POST to one subscription.
type Delivery struct {
	SubscriptionID string
	URL            string
	DeliveryID     string
	StatusCode     int
	Err            error
	Elapsed        time.Duration
}

// OK reports a 2xx response.
func (d Delivery) OK() bool {
	return d.Err == nil && d.StatusCode >= 200 && d.StatusCode < 300
}

// Dispatcher fans events out to subscribed webhooks. Each destination is
// delivered once; failures are logged and never affect other destinations.
type Dispatcher struct {
	source   SubscriptionSource
	client   *http.Client
	observer Observer
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher whose requests time out after timeout.
func NewDispatcher(log *slog.Logger, source SubscriptionSource, timeout time.Duration) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{
		source: source,
		client: &http.Client{Timeout: timeout},
		logger: log.With(slog.String("component", "webhook")),
	}
}

// SetObserver installs a delivery observer.
func (d *Dispatcher) SetObserver(observer Observer) {
	d.observer = observer
}

// Dispatch posts payload to every active subscription of channelID that wants
// kind and waits for all deliveries. The returned error covers only loading
// subscriptions and encoding the payload.
func (d *Dispatcher) Dispatch(ctx context.Context, channelID string, kind EventKind, payload any) ([]Delivery, error) {
	if d.source == nil {
		return nil, fmt.Errorf("webhook source not configured")
	}
	subs, err := d.source.ListWebhooks(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	targets := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.Wants(kind) {
			targets = append(targets, sub)
		}
	}
	if len(targets) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	results := make([]Delivery, len(targets))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func(i int, sub Subscription) {
			defer wg.Done()
			results[i] = d.deliver(ctx, channelID, kind, sub, body)
		}(i, sub)
	}
	wg.Wait()
	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, channelID string, kind EventKind, sub Subscription, body []byte) Delivery {
	result := Delivery{
		SubscriptionID: sub.ID,
		URL:            sub.URL,
		DeliveryID:     uuid.NewString(),
	}
	start := time.Now()
	defer func() {
		result.Elapsed = time.Since(start)
		if d.observer != nil {
			d.observer.ObserveDelivery(kind, result.OK(), result.Elapsed)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		result.Err = err
		d.logFailure(channelID, kind, sub, result)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderChannelID, channelID)
	req.Header.Set(HeaderEventKind, kind.String())
	req.Header.Set(HeaderDeliveryID, result.DeliveryID)

	resp, err := d.client.Do(req)
	if err != nil {
		result.Err = err
		d.logFailure(channelID, kind, sub, result)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	result.StatusCode = resp.StatusCode
	if !result.OK() {
		result.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
		d.logFailure(channelID, kind, sub, result)
		return result
	}
	d.logger.Debug("webhook delivered",
		slog.String("channel_id", channelID),
		slog.String("event", kind.String()),
		slog.String("webhook_id", sub.ID),
		slog.Int("status", resp.StatusCode),
	)
	return result
}

func (d *Dispatcher) logFailure(channelID string, kind EventKind, sub Subscription, result Delivery) {
	d.logger.Warn("webhook delivery failed",
		slog.String("channel_id", channelID),
		slog.String("event", kind.String()),
		slog.String("webhook_id", sub.ID),
		slog.String("url", sub.URL),
		slog.Int("status", result.StatusCode),
		slog.Any("error", result.Err),
	)
}
