// Package channel maintains the push connection to the worker.
//
// A Manager dials one of its transports (WebSocket push or HTTP long-poll),
// keeps the connection alive with heartbeats, reconnects with capped
// exponential backoff, and re-joins the tracked job room after every
// reconnect. Consumers read typed events from Manager.Events and never see
// which transport carried them.
package channel
