package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event bus on Redis
//
// Publishing appends the event to the project's durable log, then fans out on
// the event type's Pub/Sub channel; durability strictly precedes delivery. The
// log stores each event exactly once and is retained indefinitely, so a
// project's history can be replayed in order after a crash. Pub/Sub fan-out is
// best-effort per connected subscriber; consumers that miss messages catch up
// via ReplayEvents, and handlers are expected to tolerate duplicates.

// PublishEvent durably appends an event to its project's log and fans it out
// to subscribers of its type. Assigns the event ID and timestamp if absent.
// Returns the event ID.
//
// Per-project ordering is defined by an atomic sequence counter, so concurrent
// publishers to the same project serialize into one replayable order.
func (c *Client) PublishEvent(ctx context.Context, event *Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.TimestampMs == 0 {
		event.TimestampMs = time.Now().UnixMilli()
	}

	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}

	key := EventKey(c.instanceName, event.ID)

	// HSETNX on the event_id field guards the log against double-append:
	// re-publishing an already stored event is a no-op on durable state.
	stored, err := c.rdb.HSetNX(ctx, key, "event_id", event.ID).Result()
	if err != nil {
		return "", fmt.Errorf("%w: failed to store event %s: %v", ErrDatabase, event.ID, err)
	}

	if stored {
		hash, err := EventToHash(event)
		if err != nil {
			return "", fmt.Errorf("failed to serialize event: %w", err)
		}

		if err := c.rdb.HSet(ctx, key, hash).Err(); err != nil {
			return "", fmt.Errorf("%w: failed to write event %s: %v", ErrDatabase, event.ID, err)
		}

		seq, err := c.rdb.Incr(ctx, EventSeqKey(c.instanceName, event.ProjectID)).Result()
		if err != nil {
			return "", fmt.Errorf("%w: failed to sequence event %s: %v", ErrDatabase, event.ID, err)
		}

		logEntry := redis.Z{Score: float64(seq), Member: event.ID}
		if err := c.rdb.ZAdd(ctx, EventLogKey(c.instanceName, event.ProjectID), logEntry).Err(); err != nil {
			return "", fmt.Errorf("%w: failed to append event %s to log: %v", ErrDatabase, event.ID, err)
		}

		if err := c.rdb.SAdd(ctx, ProjectsKey(c.instanceName), event.ProjectID).Err(); err != nil {
			return "", fmt.Errorf("%w: failed to index project %s: %v", ErrDatabase, event.ProjectID, err)
		}
	}

	// Durable append succeeded; only now fan out to subscribers.
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event for delivery: %w", err)
	}

	channel := EventTypeChannel(c.instanceName, event.Type)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return "", fmt.Errorf("%w: failed to deliver event %s: %v", ErrDatabase, event.ID, err)
	}

	return event.ID, nil
}

// PublishToWorker publishes an event on a worker's private channel.
// Used by the scheduler to hand dispatched tasks to their assigned worker.
// The event is durably logged first, exactly like PublishEvent.
func (c *Client) PublishToWorker(ctx context.Context, workerName string, event *Event) (string, error) {
	eventID, err := c.PublishEvent(ctx, event)
	if err != nil {
		return "", err
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event for worker delivery: %w", err)
	}

	channel := WorkerEventsChannel(c.instanceName, workerName)
	if err := c.rdb.Publish(ctx, channel, eventJSON).Err(); err != nil {
		return "", fmt.Errorf("%w: failed to notify worker %s: %v", ErrDatabase, workerName, err)
	}

	return eventID, nil
}

// GetEvent retrieves an event by ID.
// Returns ErrNotFound if the event doesn't exist.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	key := EventKey(c.instanceName, eventID)

	hashData, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read event %s: %v", ErrDatabase, eventID, err)
	}

	if len(hashData) == 0 {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}

	event, err := HashToEvent(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize event %s: %w", eventID, err)
	}

	return event, nil
}

// ReplayEvents returns a project's full event history in publish order.
// Used for crash recovery and audit.
func (c *Client) ReplayEvents(ctx context.Context, projectID string) ([]*Event, error) {
	eventIDs, err := c.rdb.ZRange(ctx, EventLogKey(c.instanceName, projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read event log for %s: %v", ErrDatabase, projectID, err)
	}

	events := make([]*Event, 0, len(eventIDs))
	for _, eventID := range eventIDs {
		event, err := c.GetEvent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to replay event %s: %w", eventID, err)
		}
		events = append(events, event)
	}

	return events, nil
}

// CausationChain walks causation_id links backward from the given event and
// returns the chain in chronological order, root first, ending with the event
// itself. A missing ancestor truncates the chain rather than failing: partial
// provenance beats no provenance.
func (c *Client) CausationChain(ctx context.Context, eventID string) ([]*Event, error) {
	var chain []*Event
	seen := make(map[string]bool)

	currentID := eventID
	for currentID != "" && !seen[currentID] {
		seen[currentID] = true

		event, err := c.GetEvent(ctx, currentID)
		if IsNotFound(err) {
			// Ancestor was published by a component we can no longer see
			// (or predates this instance). Return what we have.
			break
		}
		if err != nil {
			return nil, err
		}

		chain = append(chain, event)
		currentID = event.CausationID
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}

	// Walked newest-to-oldest; reverse into chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

// Subscription represents an active Pub/Sub subscription to bus events.
// Caller must call Close() when done to clean up resources.
// Subscriptions deliver full event objects via the Events() channel.
type Subscription struct {
	pubsub *redis.PubSub
	events <-chan *Event
	errors <-chan error
	cancel func()
	once   sync.Once

	instanceName string
}

// Events returns the channel of bus events.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Event {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Unsubscribe stops delivery of the given event types.
// In-flight deliveries already buffered on Events() may still be received;
// no new deliveries of the removed types occur after this returns.
func (s *Subscription) Unsubscribe(ctx context.Context, types ...EventType) error {
	channels := make([]string, len(types))
	for i, et := range types {
		channels[i] = EventTypeChannel(s.instanceName, et)
	}
	return s.pubsub.Unsubscribe(ctx, channels...)
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// SubscribeEvents subscribes to bus events of the given types.
// Type filtering is strict: each type has its own channel and the subscription
// only joins the channels it was asked for. Each subscriber runs its own
// Pub/Sub connection, so a slow or failing handler never blocks delivery to
// other subscribers of the same event. Caller must call subscription.Close()
// when done; context cancellation also stops the subscription.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub;
// ReplayEvents is the recovery path.
func (c *Client) SubscribeEvents(ctx context.Context, types ...EventType) (*Subscription, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}

	channels := make([]string, len(types))
	for i, et := range types {
		if err := et.Validate(); err != nil {
			return nil, fmt.Errorf("cannot subscribe: %w", err)
		}
		channels[i] = EventTypeChannel(c.instanceName, et)
	}

	pubsub := c.rdb.Subscribe(ctx, channels...)

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					// Send error on error channel, skip message
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		pubsub:       pubsub,
		events:       eventsChan,
		errors:       errorsChan,
		cancel:       cancelFunc,
		instanceName: c.instanceName,
	}, nil
}

// SubscribeWorkerEvents subscribes to a worker's private dispatch channel.
// Worker agents use this to receive their task hand-offs.
func (c *Client) SubscribeWorkerEvents(ctx context.Context, workerName string) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, WorkerEventsChannel(c.instanceName, workerName))

	eventsChan := make(chan *Event, 10)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()

		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal worker event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &event:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		pubsub:       pubsub,
		events:       eventsChan,
		errors:       errorsChan,
		cancel:       cancelFunc,
		instanceName: c.instanceName,
	}, nil
}
