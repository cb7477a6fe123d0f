// Package events defines typed event structures for the orchestration layer.
// These events are published via the pubsub broker and consumed by the CLI
// and other subscribers.
//
// Event types are organized by source:
//   - ProgressEvent: one per orchestrator phase boundary
//   - WorkerEvent: events from the workers of a team
package events
