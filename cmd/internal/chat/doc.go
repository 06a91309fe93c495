// Package chat implements the conversation synchronization core.
//
// A Conversation owns one message Store and reconciles three sources into it:
// the REST history (HistoryLoader), the realtime event stream (Channel) and the
// local optimistic send path (Sender).
//
// Invariants:
//   - Messages with equal text and sender created less than DuplicateWindow
//     apart are one logical message; history and inbound merges never hold both.
//   - Store order is insertion order; nothing re-sorts it.
//   - A send is inserted locally before it is persisted, and persisted before
//     it is announced over the realtime channel.
//
// Transport (HTTP/WS) lives behind the API and Connector interfaces.
package chat
