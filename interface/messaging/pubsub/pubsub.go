package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/spatialops/stac-fetcher/interface/messaging"
	"github.com/spatialops/stac-fetcher/service"
	"github.com/spatialops/stac-fetcher/service/log"
)

// Consumer implements messaging.Consumer on a pubsub subscription
type Consumer struct {
	project      string
	subscription string
}

func NewConsumer(project, subscription string) (*Consumer, error) {
	if project == "" || subscription == "" {
		return nil, fmt.Errorf("pubsub.NewConsumer: missing project or subscription")
	}
	return &Consumer{project: project, subscription: subscription}, nil
}

// Pull blocks, handing each received message to handler.
// Messages failed with a temporary error are redelivered.
func (c *Consumer) Pull(ctx context.Context, handler messaging.Handler) error {
	client, err := pubsub.NewClient(ctx, c.project)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	defer client.Close()

	sub := client.Subscription(c.subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = 1

	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		msg := messaging.Message{ID: m.ID, Data: m.Data}
		if m.DeliveryAttempt != nil {
			msg.TryCount = *m.DeliveryAttempt
		}
		if err := handler(ctx, &msg); err != nil {
			if service.Temporary(err) {
				log.Logger(ctx).Warn("message requeued", zap.String("msgID", m.ID), zap.Error(err))
				m.Nack()
				return
			}
			log.Logger(ctx).Error("message dropped", zap.String("msgID", m.ID), zap.Error(err))
		}
		m.Ack()
	})
}

type publisherOptions struct {
	maxRetries int
}

type PublisherOption func(*publisherOptions)

// WithMaxRetries sets the number of attempts for a publication failing with a temporary error
func WithMaxRetries(n int) PublisherOption {
	return func(o *publisherOptions) { o.maxRetries = n }
}

// Publisher implements messaging.Publisher on a pubsub topic
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	opts   publisherOptions
}

func NewPublisher(ctx context.Context, project, topic string, opts ...PublisherOption) (*Publisher, error) {
	if project == "" || topic == "" {
		return nil, fmt.Errorf("pubsub.NewPublisher: missing project or topic")
	}
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}
	p := &Publisher{client: client, topic: client.Topic(topic), opts: publisherOptions{maxRetries: 1}}
	for _, o := range opts {
		o(&p.opts)
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	return service.Retriable(ctx, func() error {
		res := p.topic.Publish(ctx, &pubsub.Message{Data: data})
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("pubsub.Publish: %w", err)
		}
		return nil
	}, time.Second, p.opts.maxRetries)
}

func (p *Publisher) Stop() {
	p.topic.Stop()
	p.client.Close()
}
