package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"gitdeployer/internal/changeset"
	"gitdeployer/internal/deployment"
)

const defaultAMQPURLEnv = "AMQP_URL"

// Publisher delivers a message body to a queue.
type Publisher interface {
	Publish(ctx context.Context, url, queue string, body []byte) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, url, queue string, body []byte) error

func (f PublisherFunc) Publish(ctx context.Context, url, queue string, body []byte) error {
	return f(ctx, url, queue, body)
}

// AMQPPublisher publishes over a new broker connection per message.
type AMQPPublisher struct{}

func (AMQPPublisher) Publish(ctx context.Context, amqpURL, amqpQueue string, data []byte) (err error) {
	if err = ctx.Err(); err != nil {
		return
	}

	var conn *amqp.Connection
	var ch *amqp.Channel
	var q amqp.Queue

	if conn, err = amqp.Dial(amqpURL); err != nil {
		err = fmt.Errorf("failed to connect to amqp broker: %w", err)
		return
	}
	defer conn.Close()

	if ch, err = conn.Channel(); err != nil {
		err = fmt.Errorf("failed to open a channel: %w", err)
		return
	}
	defer ch.Close()

	if q, err = ch.QueueDeclare(amqpQueue, true, false, false, false, nil); err != nil {
		err = fmt.Errorf("failed to declare a queue: %w", err)
		return
	}

	err = ch.Publish("", q.Name, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Timestamp:    time.Now(),
		Body:         data,
	})
	if err != nil {
		err = fmt.Errorf("failed to publish a message: %w", err)
		return
	}

	return
}

// AMQPNotify publishes a deployment event for the processed revision.
type AMQPNotify struct {
	Base

	URL       string
	Queue     string
	Publisher Publisher
	now       func() time.Time
}

// Event describes a processed deployment for external consumers.
type Event struct {
	Time         time.Time `json:"time"`
	DeploymentID string    `json:"deployment_id"`
	Target       string    `json:"target"`
	FromRevision string    `json:"from_revision,omitempty"`
	ToRevision   string    `json:"to_revision,omitempty"`
	Created      []string  `json:"created"`
	Updated      []string  `json:"updated"`
	Deleted      []string  `json:"deleted"`
}

func newEvent(now time.Time, d *deployment.Deployment, cs changeset.ChangeSet) Event {
	return Event{
		Time:         now.UTC(),
		DeploymentID: d.ID,
		Target:       d.TargetID,
		FromRevision: d.FromRevision,
		ToRevision:   d.ToRevision,
		Created:      orEmpty(cs.Created()),
		Updated:      orEmpty(cs.Updated()),
		Deleted:      orEmpty(cs.Deleted()),
	}
}

func orEmpty(paths []string) []string {
	if paths == nil {
		return []string{}
	}
	return paths
}

// NewAMQPNotify reads the queue param and the broker URL from the url param
// or the environment (url_env, AMQP_URL by default).
func NewAMQPNotify(base Base, params map[string]any, publisher Publisher) (*AMQPNotify, error) {
	queue, err := stringParam(params, "queue")
	if err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, errors.New("param \"queue\" is required")
	}
	url, err := secretParam(params, "url", defaultAMQPURLEnv)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = AMQPPublisher{}
	}

	return &AMQPNotify{
		Base:      base,
		URL:       url,
		Queue:     queue,
		Publisher: publisher,
		now:       time.Now,
	}, nil
}

func (n *AMQPNotify) Execute(ctx context.Context, d *deployment.Deployment, cs changeset.ChangeSet, _ map[string]any) (deployment.Result, error) {
	if n.URL == "" {
		return deployment.Result{}, errors.New("no amqp broker URL configured")
	}

	body, err := json.Marshal(newEvent(n.now(), d, cs))
	if err != nil {
		return deployment.Result{}, fmt.Errorf("failed to encode event: %w", err)
	}

	if err := n.Publisher.Publish(ctx, n.URL, n.Queue, body); err != nil {
		return deployment.Result{}, err
	}

	return deployment.Unchanged(fmt.Sprintf("Published %d changes to queue %s", cs.Len(), n.Queue)), nil
}
