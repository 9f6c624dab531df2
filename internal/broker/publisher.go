// Package broker mirrors normalized events onto an AMQP topic exchange.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/webhook"
)

const (
	defaultRetryAttempts = 5
	defaultRetryDelay    = time.Second
	maxRetryDelay        = 30 * time.Second
)

// Options configures the broker connection.
type Options struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
}

// amqpChannel is the part of *amqp091.Channel the publisher uses.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher publishes events with the event kind as routing key. It keeps one
// AMQP channel open and replaces it after a failed publish.
type Publisher struct {
	conn     *amqp091.Connection
	open     func() (amqpChannel, error)
	exchange string
	logger   *slog.Logger

	mu sync.Mutex
	ch amqpChannel
}

// Dial connects with exponential backoff and declares the exchange.
func Dial(ctx context.Context, log *slog.Logger, opts Options) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "broker"))
	conn, err := dialWithRetry(ctx, log, opts)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", opts.Exchange, err)
	}
	log.Info("broker connected", slog.String("exchange", opts.Exchange))
	p := newPublisher(log, opts.Exchange, func() (amqpChannel, error) { return conn.Channel() })
	p.conn = conn
	p.ch = ch
	return p, nil
}

func newPublisher(log *slog.Logger, exchange string, open func() (amqpChannel, error)) *Publisher {
	return &Publisher{open: open, exchange: exchange, logger: log}
}

// Publish sends body to the exchange under routing key kind. A publish that
// fails on the cached channel is retried once on a fresh one.
func (p *Publisher) Publish(ctx context.Context, channelID string, kind webhook.EventKind, body []byte) error {
	msg := publishing(channelID, body, uuid.NewString(), time.Now())
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if p.ch == nil {
			ch, openErr := p.open()
			if openErr != nil {
				return errors.Join(fmt.Errorf("open channel: %w", openErr), err)
			}
			p.ch = ch
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, kind.String(), false, false, msg)
		if err == nil {
			p.logger.Debug("published", slog.String("key", kind.String()), slog.String("channel_id", channelID))
			return nil
		}
		_ = p.ch.Close()
		p.ch = nil
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("publish %s: %w", kind, err)
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

func publishing(channelID string, body []byte, deliveryID string, now time.Time) amqp091.Publishing {
	return amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     deliveryID,
		CorrelationId: channelID,
		Timestamp:     now,
		Headers:       amqp091.Table{"channel_id": channelID},
		Body:          body,
	}
}

func dialWithRetry(ctx context.Context, log *slog.Logger, opts Options) (*amqp091.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		sleep := backoff(delay, i)
		log.Warn("broker dial failed", slog.Int("attempt", i), slog.Duration("sleep", sleep), slog.Any("error", err))
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect broker after %d attempts: %w", attempts, lastErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	sleep := base << (attempt - 1)
	if sleep <= 0 || sleep > maxRetryDelay {
		return maxRetryDelay
	}
	return sleep
}
