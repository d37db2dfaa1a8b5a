package queue

import "context"

// Publisher publishes job dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// ProvisionQueueName is the work queue for the automatic account and
	// restaurant creation steps.
	ProvisionQueueName = "provision"

	// ProvisionDLQName receives provisioning messages rejected as
	// unprocessable.
	ProvisionDLQName = "dlq.provision"

	// SetupQueueName is the work queue for automated-setup runs.
	SetupQueueName = "setup"

	// SetupDLQName receives setup messages rejected as unprocessable.
	SetupDLQName = "dlq.setup"

	provisionRoutingKey = "provision"
	setupRoutingKey     = "setup"
)
