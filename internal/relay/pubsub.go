package relay

import (
	"context"
	"errors"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

// Publisher is a per-topic handle. Messages sharing an ordering key (the
// aggregate id) are delivered in order; after a failed publish the key must
// be resumed before it accepts more.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) Result
	Resume(orderingKey string)
	Stop()
}

type Result interface {
	Get(ctx context.Context) (string, error)
}

type topicSource interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// PubSubBroker adapts the Pub/Sub client to Broker with ordering enabled.
type PubSubBroker struct {
	client topicSource
}

func NewPubSubBroker(client topicSource) (*PubSubBroker, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &PubSubBroker{client: client}, nil
}

func (b *PubSubBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx)
}

func (b *PubSubBroker) Topic(name string) Publisher {
	p := b.client.Publisher(name)
	if p == nil {
		return nil
	}
	p.EnableMessageOrdering = true
	return &gcpPublisher{p: p}
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func (g *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) Result {
	return g.p.Publish(ctx, msg)
}

func (g *gcpPublisher) Resume(orderingKey string) {
	g.p.ResumePublish(orderingKey)
}

func (g *gcpPublisher) Stop() {
	g.p.Stop()
}
