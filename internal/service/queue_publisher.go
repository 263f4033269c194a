// Package service provides the broker-facing side of page.viewed events.
// Publishing is best effort: errors are logged and returned so the caller
// can ignore them without failing the request.
package service

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"

    q "github.com/iliyamo/page-tracker/internal/queue"
)

// Publisher keeps one AMQP connection and channel and redials lazily after
// any failure.
type Publisher struct {
    url  string
    log  *zap.Logger
    dial func(url string) (*amqp.Connection, error)

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

func NewPublisher(url string, zl *zap.Logger) *Publisher {
    return &Publisher{url: url, log: zl, dial: amqp.Dial}
}

// PublishPageViewed publishes ev as a persistent JSON message on the
// page.viewed queue.
func (p *Publisher) PublishPageViewed(ctx context.Context, ev q.PageViewedEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        p.log.Error("rabbitmq: marshal event failed", zap.Error(err))
        return err
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        p.log.Warn("rabbitmq: channel unavailable", zap.Error(err))
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Body:         body,
    }
    if err := ch.PublishWithContext(ctx, "", q.PageViewedQueue, false, false, pub); err != nil {
        p.log.Warn("rabbitmq: publish failed", zap.Error(err))
        p.reset()
        return err
    }
    return nil
}

// channel returns the cached channel or dials a new one.  Caller holds mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
        return p.ch, nil
    }
    p.reset()

    conn, err := p.dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("channel open: %w", err)
    }
    if _, err := ch.QueueDeclare(q.PageViewedQueue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
    }
    if p.conn != nil {
        _ = p.conn.Close()
    }
    p.conn, p.ch = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
