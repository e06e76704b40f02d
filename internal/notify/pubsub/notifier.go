// Package pubsub triggers the analysis pipeline by publishing to a Google
// Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/profile-feedback/internal/feedback"
)

// Notifier satisfies feedback.Notifier.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Dial creates a client for projectID and binds topicID. The topic must exist.
func Dial(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Notifier, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("notifier.pubsub.project_id and notifier.pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil || !ok {
		_ = client.Close()
		if err == nil {
			err = fmt.Errorf("topic %q does not exist", topicID)
		}
		return nil, fmt.Errorf("bind pubsub topic: %w", err)
	}
	return &Notifier{client: client, topic: topic}, nil
}

// Notify publishes n as JSON and waits for the server to acknowledge it.
func (p *Notifier) Notify(ctx context.Context, n feedback.Notification) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{"recordId": n.RecordID}}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return "Notification published as message " + id, nil
}

// Close flushes pending publishes and releases the client when Dial created it.
func (p *Notifier) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string { return c.attrs[key] }

func (c *attributeCarrier) Set(key, value string) { c.attrs[key] = value }

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
