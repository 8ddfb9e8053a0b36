// Package types defines the shared data model of the engine: tasks,
// results, wire envelopes, status snapshots and structured errors.
//
// Everything crossing a process boundary travels as an envelope with
// fixed JSON field names, so workers written in other languages can
// participate.
package types
