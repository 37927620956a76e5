package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"

	"github.com/shopopti/go-import-fulfillment/internal/fulfillment"
	"github.com/shopopti/go-import-fulfillment/internal/logging"
)

// orderExecutor is the slice of the fulfillment executor the worker needs.
type orderExecutor interface {
	Execute(ctx context.Context, orderID string) (fulfillment.ExecStats, error)
}

// Processor consumes fulfillment queue messages and drives supplier placement.
type Processor struct {
	executor orderExecutor
	log      *logging.Logger
}

func NewProcessor(executor orderExecutor, log *logging.Logger) *Processor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Processor{executor: executor, log: log}
}

// Handle receives an SQS batch event and processes each message.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			// Return error: Lambda will retry. If failed too many times, message goes to DLQ.
			p.log.Error("worker", "error", err)
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var msg fulfillment.QueueMessage
	if err := json.Unmarshal([]byte(rec.Body), &msg); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}

	stats, err := p.executor.Execute(ctx, msg.OrderID)
	if err != nil {
		return fmt.Errorf("execute order %s: %w", msg.OrderID, err)
	}
	p.log.Info("processed fulfillment message",
		"order_id", msg.OrderID,
		"supplier", msg.Supplier,
		"completed", stats.Completed,
		"deferred", stats.Deferred,
		"failed", stats.Failed,
		"waiting", stats.Waiting)
	return nil
}
