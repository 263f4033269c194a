// Package queue defines message payloads exchanged over the message broker.
package queue

// PageViewedQueue is the durable queue page.viewed events are published to.
const PageViewedQueue = "page.viewed"

// PageViewedEvent is published after a view has been counted.  Count is the
// value the store returned for that increment, so consumers can detect gaps
// without querying the store.
type PageViewedEvent struct {
    Key       string `json:"key"`
    Count     int64  `json:"count"`
    ViewedAt  string `json:"viewed_at"`
    RemoteIP  string `json:"remote_ip,omitempty"`
    UserAgent string `json:"user_agent,omitempty"`
}
