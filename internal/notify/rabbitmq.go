// Package notify publishes job lifecycle events to a topic exchange. It is
// a fire-and-forget side channel: the queue engine never depends on a
// publish succeeding, and a failed publish never changes job state.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobq/internal/queue"
	"github.com/cuongbtq/jobq/shared/rabbitmq"
)

// Config holds the connection settings for the lifecycle-event exchange.
type Config struct {
	Host              string
	Port              int
	User              string
	Password          string
	VHost             string
	ExchangeName      string
	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	PublishRetries    int
	PublishRetryDelay time.Duration
}

// Event is the wire shape published for each terminal job transition.
type Event struct {
	JobID         int64   `json:"job_id"`
	Status        string  `json:"status"`
	CorrelationID *string `json:"correlation_id,omitempty"`
	AttemptCount  int     `json:"attempt_count"`
	ResultBlob    *string `json:"result_blob_path,omitempty"`
	LastError     *string `json:"last_error,omitempty"`
}

// Publisher publishes Event values to a durable topic exchange, routed by
// "job.<status>". It is a thin domain layer over shared/rabbitmq.Client:
// no queue is declared, since a topic publisher routes each message by a
// key the client never knows in advance.
type Publisher struct {
	client *rabbitmq.Client
}

// NewPublisher connects to RabbitMQ and declares the topic exchange.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	retryAttempts := cfg.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = 1
	}
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.ExchangeName,
		ExchangeType:      "topic",
		ExchangeDurable:   true,
		RetryAttempts:     retryAttempts,
		RetryInterval:     cfg.RetryInterval,
		Heartbeat:         cfg.Heartbeat,
		PublishRetries:    cfg.PublishRetries,
		PublishRetryDelay: cfg.PublishRetryDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("jobq: create notify publisher: %w", err)
	}
	return &Publisher{client: client}, nil
}

// Notify implements queue.Notifier. The routing key is "job.<status>" so
// downstream consumers can bind to a subset of lifecycle transitions.
func (p *Publisher) Notify(ctx context.Context, job *queue.Job) error {
	evt := Event{
		JobID:         job.JobID,
		Status:        string(job.Status),
		CorrelationID: job.CorrelationID,
		AttemptCount:  job.AttemptCount,
		ResultBlob:    job.ResultBlobPath,
		LastError:     job.LastError,
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := "job." + evt.Status
	return p.client.PublishWithRetryKey(ctx, routingKey, body, "application/json")
}

// Close releases the underlying connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
