package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
)

// MaxBatchSize is the PutEvents limit on entries per request.
const MaxBatchSize = 10

// EventBridgeClient is the subset of the EventBridge API used by EventBridge.
type EventBridgeClient interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

var _ EventBridgeClient = (*eventbridge.Client)(nil)

// Entry is one event of a batch.
type Entry struct {
	EventType string
	Source    string
	Detail    any
}

// EventBridge publishes events to an EventBridge bus.
type EventBridge struct {
	client  EventBridgeClient
	busName string
}

// NewEventBridge creates a publisher for busName ("default" if empty).
func NewEventBridge(client EventBridgeClient, busName string) *EventBridge {
	if busName == "" {
		busName = "default"
	}
	return &EventBridge{client: client, busName: busName}
}

// Publish sends a single event.
func (p *EventBridge) Publish(ctx context.Context, eventType, source string, detail any) error {
	return p.PublishBatch(ctx, []Entry{{EventType: eventType, Source: source, Detail: detail}})
}

// PublishBatch sends entries in requests of at most MaxBatchSize.
// Every chunk is attempted; failures are joined.
func (p *EventBridge) PublishBatch(ctx context.Context, entries []Entry) error {
	var errs []error
	for start := 0; start < len(entries); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(entries))
		if err := p.put(ctx, entries[start:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *EventBridge) put(ctx context.Context, entries []Entry) error {
	reqs := make([]types.PutEventsRequestEntry, 0, len(entries))
	for _, e := range entries {
		detail, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshal %s detail: %w", e.EventType, err)
		}
		source := e.Source
		if source == "" {
			source = DefaultSource
		}
		reqs = append(reqs, types.PutEventsRequestEntry{
			Source:       aws.String(source),
			DetailType:   aws.String(e.EventType),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(p.busName),
		})
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: reqs})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}
	if out.FailedEntryCount > 0 {
		var failed []error
		for i, r := range out.Entries {
			if r.ErrorCode != nil && i < len(entries) {
				failed = append(failed, fmt.Errorf("%s: %s: %s",
					entries[i].EventType, aws.ToString(r.ErrorCode), aws.ToString(r.ErrorMessage)))
			}
		}
		return fmt.Errorf("put events: %d of %d entries failed: %w",
			out.FailedEntryCount, len(entries), errors.Join(failed...))
	}
	return nil
}
