// Package notifier delivers session transition notices and command replies to
// chat channels.
//
// Messages are queued and sent by a small worker pool. Each channel is pinned
// to one worker, so messages for a channel leave in the order they were
// queued. Sends are rate limited, retried with backoff, and bounded by a
// per-send timeout. Enqueueing never blocks: a full queue drops the message
// and reports it on the event bus.
//
// # History
//
// The service keeps a small in-memory history of recently sent messages for
// diagnostics.
package notifier
