// Package stream carries incremental progress from concurrently running
// workers to a live client.
//
// # Queues
//
// Each turn gets its own bounded [Queue], created on a process-wide [Bus]
// and destroyed when the turn ends. Publishers block while a queue is full,
// which applies backpressure to workers that outrun the client.
//
// # Ordering
//
// Events carry a per-source SegmentID. A queue rejects an event whose
// positive SegmentID is lower than the last one accepted for the same
// source, and enqueues under the same lock that checked it, so a consumer
// never observes a source's segments out of order. SegmentID 0 marks
// unordered events (progress, errors, results). No order is promised
// between different sources.
//
// # Publishing
//
// Workers receive a [Publisher]. Publishing is best effort: failures are
// logged as streaming errors and never interrupt the worker.
// [Publisher.StreamThought] splits text according to a [Pacer] and ends
// with a thought_complete marker carrying the text's rune length:
//
//	pub.StreamThought(ctx, "math", "hi")
//	// thought "h" seg 1, thought "i" seg 2, thought_complete seg 2 total_length 2
//
// # Multiplexing
//
// [Multiplex] drains a queue and the engine's lifecycle channel on separate
// goroutines and emits one [Envelope] stream. The output closes only after
// both sources are finished. [Encode] and [WriteSSE] turn envelopes into
// the client wire format.
package stream
