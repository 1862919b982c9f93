// Package relay implements the event relay / state-sync orchestrator.
//
// The orchestrator consumes typed events from the stream, compares each
// field value against the last confirmed snapshot, and only on a real
// change fans a sync call out to every downstream target. The snapshot is
// overwritten strictly after every target confirmed, so a crash mid-flight
// leaves it consistent with the last confirmed downstream state. Purchase
// events are one-shot actions and bypass the snapshot entirely.
package relay
