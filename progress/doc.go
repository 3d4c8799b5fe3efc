// Package progress fans pipeline events out to live subscribers.
//
// A Broadcaster delivers each event to the subscribers of its user and of its
// document. Per-document percentages never decrease for a subscriber, and a
// document subscription is closed after the document's terminal event. Slow
// subscribers lose their oldest buffered events rather than blocking workers.
//
// Handler serves the same stream over a websocket, and Tracker renders a
// batch of documents as a single terminal progress line.
package progress
