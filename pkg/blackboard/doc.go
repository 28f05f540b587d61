// Package blackboard provides type-safe Go definitions and Redis schema patterns
// for the Callboard coordination substrate.
//
// # Overview
//
// The blackboard is the central shared state system where all Callboard
// components (orchestrator, generation workers, policy agents, CLI) interact
// via well-defined data structures stored in Redis. It implements the
// Blackboard architectural pattern - a shared workspace where independent
// agents collaborate by reading and writing structured data - plus the three
// coordination primitives everything else is built on: a durable, replayable
// event bus with causation tracking, a TTL-based distributed lock, and a
// persistent priority task queue.
//
// # Core Concepts
//
// Events are immutable facts on a per-project, replayable log. Each event may
// carry a causation_id pointing at the event that triggered it, forming a DAG
// of provenance that CausationChain walks back to the root.
//
// Records are versioned, hierarchically scoped documents (project, episode,
// shot) holding named JSON sub-documents: budget, global spec, shot states,
// artifact index. Every mutation bumps the version, appends to the record's
// change log, and invalidates cached copies.
//
// Tasks are units of assignable work with a priority, a dependency set, and a
// state-machine-governed lifecycle. The queue orders them by priority, then by
// enqueue time.
//
// Approval requests are human gates: creating one pauses its project until a
// decision event or a timeout resolves it.
//
// # Multi-Instance Support
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to
// enable multiple Callboard instances to safely coexist on a single Redis
// server without interference. Each instance has complete isolation of its
// data and events.
//
// # Usage Example
//
//	import "github.com/mquinn/callboard/pkg/blackboard"
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default-1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Publish a root event
//	eventID, err := client.PublishEvent(ctx, &blackboard.Event{
//		ProjectID: "proj-42",
//		Type:      blackboard.EventProjectCreated,
//		Actor:     "user",
//		Payload:   json.RawMessage(`{"title": "Shorts S01"}`),
//	})
//
//	// Consume events of selected types
//	sub, err := client.SubscribeEvents(ctx, blackboard.EventProjectCreated, blackboard.EventTaskCompleted)
//	defer sub.Close()
//	for event := range sub.Events() {
//		// ...
//	}
//
// # Delivery Semantics
//
// PublishEvent appends to the durable log before any fan-out, and the log
// stores each event exactly once. Pub/Sub delivery to a connected subscriber
// preserves per-project publish order but is best-effort: a disconnected or
// slow subscriber recovers by replaying the log with ReplayEvents. Handlers
// are expected to be idempotent.
package blackboard
